package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/n0madic/go-llmportal/internal/apierr"
	"github.com/n0madic/go-llmportal/internal/fallback"
	"github.com/n0madic/go-llmportal/internal/upstream"
)

// TranscriptPrefix marks transcribed text handed back to the UI.
const TranscriptPrefix = "Voice Transcription: "

// TranscribeRequest names the audio by Reader or FilePath. Filename drives
// the prompting hint and the multipart file name.
type TranscribeRequest struct {
	Reader         io.Reader
	FilePath       string
	Filename       string
	PreferredModel string
	UsePrompting   *bool
}

// Transcription is a successful transcription.
type Transcription struct {
	Text           string  `json:"text"`
	RawText        string  `json:"rawText"`
	Model          string  `json:"model"`
	Duration       float64 `json:"duration,omitempty"`
	UsedFallback   bool    `json:"usedFallback"`
	FallbackReason string  `json:"fallbackReason,omitempty"`
}

// TranscriptionPrompt derives a context hint from the file name.
func TranscriptionPrompt(filename string) string {
	name := strings.ToLower(filename)
	var lead string
	switch {
	case strings.Contains(name, "meeting"):
		lead = "This is a meeting recording with multiple speakers."
	case strings.Contains(name, "call"):
		lead = "This is a phone call recording."
	case strings.Contains(name, "interview"):
		lead = "This is an interview recording."
	default:
		lead = "This is a voice recording that may contain technical terms, proper nouns, or specific terminology."
	}
	return lead + ` Please transcribe accurately, maintaining proper punctuation and capitalization. Include filler words like "um", "uh", "like" if they are present.`
}

// Transcribe runs the transcription chain. The audio is read once and
// replayed for every tier.
func (h *Handler) Transcribe(ctx context.Context, req TranscribeRequest) (*Transcription, error) {
	data, filename, err := readAudio(req)
	if err != nil {
		return nil, err
	}
	prompting := req.UsePrompting == nil || *req.UsePrompting

	chain := fallback.Chain[*Transcription]{Name: "transcription", Log: h.log}
	for _, model := range TranscriptionModels() {
		audioReq := goopenai.AudioRequest{
			Model:    model,
			FilePath: filename,
			Format:   goopenai.AudioResponseFormatJSON,
		}
		if prompting && model != ModelWhisper {
			audioReq.Prompt = TranscriptionPrompt(filename)
		}
		chain.Tiers = append(chain.Tiers, fallback.Tier[*Transcription]{
			Name:  model,
			Model: model,
			Run: func(ctx context.Context) (*Transcription, error) {
				r := audioReq
				r.Reader = bytes.NewReader(data)
				resp, err := h.transcriber.CreateTranscription(ctx, r)
				if err != nil {
					return nil, upstream.Classify(Endpoint, err)
				}
				return &Transcription{
					Text:     TranscriptPrefix + resp.Text,
					RawText:  resp.Text,
					Model:    r.Model,
					Duration: resp.Duration,
				}, nil
			},
		})
	}
	chain = chain.From(startModel(req.PreferredModel, TranscriptionModels()))

	h.log.Info("audio.transcribe",
		zap.String("filename", filename),
		zap.Int("bytes", len(data)),
		zap.Strings("chain", chain.Models()),
	)
	out, err := chain.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, apierr.Wrap(apierr.KindUpstream, Endpoint, err)
	}
	res := out.Value
	res.UsedFallback = out.UsedFallback()
	res.FallbackReason = out.Reason()
	return res, nil
}

func readAudio(req TranscribeRequest) ([]byte, string, error) {
	filename := req.Filename
	if filename == "" && req.FilePath != "" {
		filename = filepath.Base(req.FilePath)
	}
	if filename == "" {
		filename = "audio.webm"
	}

	r := req.Reader
	if r == nil {
		if req.FilePath == "" {
			return nil, "", apierr.New(apierr.KindValidation, Endpoint, "audio file is required")
		}
		f, err := os.Open(req.FilePath)
		if err != nil {
			return nil, "", apierr.Wrap(apierr.KindValidation, Endpoint, err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, "", apierr.New(apierr.KindValidation, Endpoint, "audio file is empty")
	}
	return data, filename, nil
}

func startModel(preferred string, chain []string) string {
	p := strings.ToLower(strings.TrimSpace(preferred))
	if contains(chain, p) {
		return p
	}
	return chain[0]
}
