// Package audio transcribes speech and synthesizes it, each through its own
// model fallback chain.
package audio

import (
	"context"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/n0madic/go-llmportal/internal/logger"
)

const Endpoint = "audio"

// Transcription models in chain order.
const (
	ModelGPT4oTranscribe     = "gpt-4o-transcribe"
	ModelGPT4oMiniTranscribe = "gpt-4o-mini-transcribe"
	ModelWhisper             = "whisper-1"
)

// Speech models in chain order.
const (
	ModelGPT4oMiniTTS = "gpt-4o-mini-tts"
	ModelTTS1HD       = "tts-1-hd"
	ModelTTS1         = "tts-1"
)

var (
	standardVoices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}
	advancedVoices = []string{"coral"}

	transcriptionFormats = []string{"mp3", "mp4", "mpeg", "mpga", "m4a", "wav", "webm"}
	speechFormats        = []string{"mp3", "opus", "aac", "flac", "wav", "pcm"}

	contentTypes = map[string]string{
		"mp3":  "audio/mpeg",
		"opus": "audio/opus",
		"aac":  "audio/aac",
		"flac": "audio/flac",
		"wav":  "audio/wav",
		"pcm":  "audio/pcm",
	}
)

// Transcriber is the multipart transcription call of the go-openai client.
type Transcriber interface {
	CreateTranscription(ctx context.Context, request goopenai.AudioRequest) (goopenai.AudioResponse, error)
}

// Poster sends an encoded JSON body and returns the raw response body.
type Poster interface {
	PostBody(ctx context.Context, endpoint, path string, body []byte) ([]byte, error)
}

// Handler serves transcription and speech.
type Handler struct {
	transcriber Transcriber
	client      Poster
	log         *logger.Logger
}

// New returns an audio handler.
func New(transcriber Transcriber, client Poster, log *logger.Logger) *Handler {
	return &Handler{transcriber: transcriber, client: client, log: logger.OrNop(log).Named("audio")}
}

// TranscriptionModels lists the transcription chain.
func TranscriptionModels() []string {
	return []string{ModelGPT4oTranscribe, ModelGPT4oMiniTranscribe, ModelWhisper}
}

// SpeechModels lists the speech chain.
func SpeechModels() []string {
	return []string{ModelGPT4oMiniTTS, ModelTTS1HD, ModelTTS1}
}

// Capabilities describes one audio model.
type Capabilities struct {
	Model               string   `json:"model"`
	Transcription       bool     `json:"transcription"`
	TextToSpeech        bool     `json:"textToSpeech"`
	Voices              []string `json:"voiceOptions"`
	Formats             []string `json:"formats"`
	IntelligentFeatures bool     `json:"intelligentFeatures"`
}

// CapabilitiesFor reports voices and formats for model.
func CapabilitiesFor(model string) Capabilities {
	c := Capabilities{
		Model:         model,
		Transcription: contains(TranscriptionModels(), model),
		TextToSpeech:  contains(SpeechModels(), model),
	}
	switch {
	case c.Transcription:
		c.Formats = transcriptionFormats
	case c.TextToSpeech:
		c.Formats = speechFormats
		c.Voices = voicesFor(model)
	}
	c.IntelligentFeatures = model == ModelGPT4oTranscribe || model == ModelGPT4oMiniTranscribe || model == ModelGPT4oMiniTTS
	return c
}

// ContentType maps a speech format to its MIME type, audio/mpeg by default.
func ContentType(format string) string {
	if ct, ok := contentTypes[format]; ok {
		return ct
	}
	return "audio/mpeg"
}

func voicesFor(model string) []string {
	switch model {
	case ModelGPT4oMiniTTS:
		return append(append([]string{}, standardVoices...), advancedVoices...)
	case ModelTTS1HD, ModelTTS1:
		return standardVoices
	default:
		return nil
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
