// Package image generates images through a gpt-image-1 → dall-e-3 →
// dall-e-2 fallback chain.
package image

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/n0madic/go-llmportal/internal/apierr"
	"github.com/n0madic/go-llmportal/internal/fallback"
	"github.com/n0madic/go-llmportal/internal/logger"
)

const (
	Endpoint = "image"
	Path     = "/images/generations"

	ModelGPTImage = "gpt-image-1"
	ModelDALLE3   = "dall-e-3"
	ModelDALLE2   = "dall-e-2"

	DefaultSize = "1024x1024"

	enhanceMaxTokens = 100
)

const enhanceTemplate = `You are an expert at creating detailed, artistic image generation prompts. Take the user's simple request and expand it into a rich, detailed prompt that will generate a beautiful, high-quality image. Focus on:

1. Artistic style and medium
2. Lighting and atmosphere
3. Composition and perspective
4. Color palette and mood
5. Fine details and textures

Keep the enhanced prompt under 50 words. Make it vivid and specific.

User request: "%s"

Enhanced prompt:`

// Poster sends an encoded JSON body and returns the response body.
type Poster interface {
	PostBody(ctx context.Context, endpoint, path string, body []byte) ([]byte, error)
}

// Rewriter produces an enhanced prompt. The chat handler satisfies it.
type Rewriter interface {
	Rewrite(ctx context.Context, instruction string, maxTokens int) (string, error)
}

// Options tune one generation. Zero values mean defaults: start at
// gpt-image-1 and enhance the prompt.
type Options struct {
	PreferredModel string `json:"preferredModel,omitempty"`
	EnhancePrompt  *bool  `json:"enhancePrompt,omitempty"`
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
	Style          string `json:"style,omitempty"`
}

func (o Options) enhance() bool { return o.EnhancePrompt == nil || *o.EnhancePrompt }

// Result is a generated image.
type Result struct {
	ImageData      string `json:"imageData,omitempty"`
	ImageURL       string `json:"imageUrl,omitempty"`
	ModelUsed      string `json:"modelUsed"`
	OriginalPrompt string `json:"originalPrompt"`
	EnhancedPrompt string `json:"enhancedPrompt,omitempty"`
	RevisedPrompt  string `json:"revisedPrompt,omitempty"`
	UsedFallback   bool   `json:"usedFallback"`
	FallbackReason string `json:"fallbackReason,omitempty"`
}

// DataURL renders ImageData as a PNG data URL, or returns ImageURL.
func (r *Result) DataURL() string {
	if r.ImageData != "" {
		return "data:image/png;base64," + r.ImageData
	}
	return r.ImageURL
}

// Handler runs the image chain.
type Handler struct {
	client   Poster
	rewriter Rewriter
	log      *logger.Logger
}

// New returns an image handler. rewriter may be nil, which disables prompt
// enhancement.
func New(client Poster, rewriter Rewriter, log *logger.Logger) *Handler {
	return &Handler{client: client, rewriter: rewriter, log: logger.OrNop(log).Named("image")}
}

// Models lists the chain in order.
func Models() []string { return []string{ModelGPTImage, ModelDALLE3, ModelDALLE2} }

// Supports reports whether model belongs to the chain.
func Supports(model string) bool {
	for _, m := range Models() {
		if m == model {
			return true
		}
	}
	return false
}

// Generate produces an image for prompt. The chain starts at
// opts.PreferredModel and walks down; every failure is kept in order.
func (h *Handler) Generate(ctx context.Context, prompt string, opts Options) (*Result, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, apierr.New(apierr.KindValidation, Endpoint, "prompt is required")
	}

	chain := fallback.Chain[*Result]{Name: Endpoint, Log: h.log}
	start := strings.ToLower(strings.TrimSpace(opts.PreferredModel))
	if start == "" || !Supports(start) {
		start = ModelGPTImage
	}

	enhanced := ""
	if start == ModelGPTImage && opts.enhance() {
		enhanced = h.enhance(ctx, prompt)
	}

	for _, model := range Models() {
		req := h.request(model, prompt, enhanced, opts)
		chain.Tiers = append(chain.Tiers, fallback.Tier[*Result]{
			Name:  model,
			Model: model,
			Run: func(ctx context.Context) (*Result, error) {
				return h.generate(ctx, req)
			},
		})
	}
	chain = chain.From(start)

	h.log.Info("image.generate",
		zap.Strings("chain", chain.Models()),
		zap.Bool("enhanced", enhanced != ""),
	)
	out, err := chain.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, apierr.Wrap(apierr.KindUpstream, Endpoint, err)
	}

	res := out.Value
	res.OriginalPrompt = prompt
	if out.Model == ModelGPTImage {
		res.EnhancedPrompt = enhanced
	}
	res.UsedFallback = out.UsedFallback()
	res.FallbackReason = out.Reason()
	return res, nil
}

type tierRequest struct {
	model  string
	prompt string
	params openai.ImageGenerateParams
}

// request builds the per-tier body. gpt-image-1 always answers in base64
// and rejects response_format, so it is omitted there.
func (h *Handler) request(model, prompt, enhanced string, opts Options) tierRequest {
	p := openai.ImageGenerateParams{
		Model: openai.ImageModel(model),
		N:     openai.Int(1),
	}
	size := DefaultSize
	if opts.Size != "" && contains(SizeOptions(model), opts.Size) {
		size = opts.Size
	}
	p.Size = openai.ImageGenerateParamsSize(size)

	switch model {
	case ModelGPTImage:
		if enhanced != "" {
			prompt = enhanced
		}
	case ModelDALLE3:
		p.Quality = openai.ImageGenerateParamsQuality("hd")
		p.ResponseFormat = openai.ImageGenerateParamsResponseFormat("b64_json")
		if opts.Style != "" && contains(StyleOptions(model), opts.Style) {
			p.Style = openai.ImageGenerateParamsStyle(opts.Style)
		}
	case ModelDALLE2:
		p.Quality = openai.ImageGenerateParamsQuality("standard")
		p.ResponseFormat = openai.ImageGenerateParamsResponseFormat("b64_json")
	}
	p.Prompt = prompt
	return tierRequest{model: model, prompt: prompt, params: p}
}

func (h *Handler) generate(ctx context.Context, req tierRequest) (*Result, error) {
	body, err := json.Marshal(req.params)
	if err != nil {
		return nil, fmt.Errorf("marshal image request: %w", err)
	}
	raw, err := h.client.PostBody(ctx, Endpoint, Path, body)
	if err != nil {
		return nil, err
	}
	first := gjson.GetBytes(raw, "data.0")
	res := &Result{
		ImageData:     first.Get("b64_json").String(),
		ImageURL:      first.Get("url").String(),
		ModelUsed:     req.model,
		RevisedPrompt: first.Get("revised_prompt").String(),
	}
	if res.ImageData == "" && res.ImageURL == "" {
		return nil, fmt.Errorf("no image data found in response")
	}
	if res.RevisedPrompt == "" {
		res.RevisedPrompt = req.prompt
	}
	return res, nil
}

func (h *Handler) enhance(ctx context.Context, prompt string) string {
	if h.rewriter == nil {
		return ""
	}
	text, err := h.rewriter.Rewrite(ctx, fmt.Sprintf(enhanceTemplate, prompt), enhanceMaxTokens)
	if err != nil {
		h.log.Warn("image.enhance.failed", zap.Error(err))
		return ""
	}
	return text
}
