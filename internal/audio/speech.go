package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/n0madic/go-llmportal/internal/apierr"
	"github.com/n0madic/go-llmportal/internal/fallback"
)

const (
	SpeechPath    = "/audio/speech"
	DefaultVoice  = "coral"
	LegacyVoice   = "echo"
	DefaultFormat = "mp3"
)

// SpeechRequest is one text-to-speech call. UseIntelligentInstructions
// defaults to true; explicit Instructions always win.
type SpeechRequest struct {
	Text                       string `json:"text"`
	PreferredModel             string `json:"preferredModel,omitempty"`
	Voice                      string `json:"voice,omitempty"`
	Format                     string `json:"format,omitempty"`
	Instructions               string `json:"instructions,omitempty"`
	UseIntelligentInstructions *bool  `json:"useIntelligentInstructions,omitempty"`
}

// Speech is synthesized audio.
type Speech struct {
	Audio          []byte `json:"-"`
	ContentType    string `json:"contentType"`
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Instructions   string `json:"instructions,omitempty"`
	UsedFallback   bool   `json:"usedFallback"`
	FallbackReason string `json:"fallbackReason,omitempty"`
}

// SpeechInstructions derives delivery instructions from the text.
func SpeechInstructions(text string) string {
	lower := strings.ToLower(text)
	var parts []string
	switch {
	case strings.ContainsAny(text, "!?") || strings.ToUpper(text) == text:
		parts = append(parts, "Speak with energy and emotion appropriate to the content.")
	case strings.Contains(text, "...") || strings.Contains(text, " - "):
		parts = append(parts, "Use thoughtful pauses and contemplative tone.")
	case utf8.RuneCountInString(text) > 200:
		parts = append(parts, "Maintain a clear, engaging narration style suitable for longer content.")
	default:
		parts = append(parts, "Speak in a natural, conversational tone.")
	}
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "warning"):
		parts = append(parts, "Use a concerned but helpful tone.")
	case strings.Contains(lower, "success") || strings.Contains(lower, "complete"):
		parts = append(parts, "Use a positive, accomplished tone.")
	case strings.Contains(lower, "question") || strings.Contains(text, "?"):
		parts = append(parts, "Use an inquisitive, engaging tone.")
	}
	return strings.Join(parts, " ")
}

// Speak runs the speech chain and returns the raw audio.
func (h *Handler) Speak(ctx context.Context, req SpeechRequest) (*Speech, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, apierr.New(apierr.KindValidation, Endpoint, "text is required")
	}
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = DefaultFormat
	}
	if !contains(speechFormats, format) {
		return nil, apierr.New(apierr.KindValidation, Endpoint, "unsupported audio format %q", format)
	}
	voice := strings.ToLower(strings.TrimSpace(req.Voice))
	if voice == "" {
		voice = DefaultVoice
	}
	if !contains(voicesFor(ModelGPT4oMiniTTS), voice) {
		return nil, apierr.New(apierr.KindValidation, Endpoint, "unsupported voice %q", voice)
	}

	instructions := strings.TrimSpace(req.Instructions)
	if instructions == "" && (req.UseIntelligentInstructions == nil || *req.UseIntelligentInstructions) {
		instructions = SpeechInstructions(req.Text)
	}

	chain := fallback.Chain[*Speech]{Name: "speech", Log: h.log}
	for _, model := range SpeechModels() {
		body := goopenai.CreateSpeechRequest{
			Model:          goopenai.SpeechModel(model),
			Input:          req.Text,
			Voice:          goopenai.SpeechVoice(voice),
			ResponseFormat: goopenai.SpeechResponseFormat(format),
		}
		spoken := &Speech{Model: model, Voice: voice, ContentType: ContentType(format)}
		if model == ModelGPT4oMiniTTS {
			body.Instructions = instructions
			spoken.Instructions = instructions
		} else if voice == DefaultVoice {
			body.Voice = goopenai.SpeechVoice(LegacyVoice)
			spoken.Voice = LegacyVoice
		}
		chain.Tiers = append(chain.Tiers, fallback.Tier[*Speech]{
			Name:  model,
			Model: model,
			Run: func(ctx context.Context) (*Speech, error) {
				return h.speak(ctx, body, *spoken)
			},
		})
	}
	chain = chain.From(startModel(req.PreferredModel, SpeechModels()))

	h.log.Info("audio.speak",
		zap.Int("chars", utf8.RuneCountInString(req.Text)),
		zap.String("voice", voice),
		zap.String("format", format),
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

func (h *Handler) speak(ctx context.Context, body goopenai.CreateSpeechRequest, spoken Speech) (*Speech, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal speech request: %w", err)
	}
	audio, err := h.client.PostBody(ctx, Endpoint, SpeechPath, payload)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty audio response")
	}
	spoken.Audio = audio
	return &spoken, nil
}
