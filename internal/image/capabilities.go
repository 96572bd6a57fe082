package image

import (
	"fmt"
	"strings"
)

// Capabilities lists the options a model accepts.
type Capabilities struct {
	Model             string   `json:"model"`
	ImageGeneration   bool     `json:"imageGeneration"`
	PromptEnhancement bool     `json:"promptEnhancement"`
	QualityOptions    []string `json:"qualityOptions"`
	SizeOptions       []string `json:"sizeOptions"`
	StyleOptions      []string `json:"styleOptions"`
}

// CapabilitiesFor reports the options for model.
func CapabilitiesFor(model string) Capabilities {
	return Capabilities{
		Model:             model,
		ImageGeneration:   Supports(model),
		PromptEnhancement: model == ModelGPTImage,
		QualityOptions:    QualityOptions(model),
		SizeOptions:       SizeOptions(model),
		StyleOptions:      StyleOptions(model),
	}
}

// QualityOptions lists accepted quality values.
func QualityOptions(model string) []string {
	if model == ModelDALLE3 {
		return []string{"standard", "hd"}
	}
	return []string{"standard"}
}

// SizeOptions lists accepted sizes.
func SizeOptions(model string) []string {
	switch model {
	case ModelGPTImage:
		return []string{"1024x1024", "1024x1536", "1536x1024"}
	case ModelDALLE3:
		return []string{"1024x1024", "1024x1792", "1792x1024"}
	case ModelDALLE2:
		return []string{"256x256", "512x512", "1024x1024"}
	default:
		return []string{DefaultSize}
	}
}

// StyleOptions lists accepted styles; empty means styles are not supported.
func StyleOptions(model string) []string {
	switch model {
	case ModelDALLE3, ModelDALLE2:
		return []string{"vivid", "natural"}
	default:
		return nil
	}
}

// ValidateOptions returns one message per option model does not accept.
func ValidateOptions(model string, opts Options) []string {
	var errs []string
	if q := opts.Quality; q != "" && !contains(QualityOptions(model), q) {
		errs = append(errs, invalid("quality", q, model, QualityOptions(model)))
	}
	if s := opts.Size; s != "" && !contains(SizeOptions(model), s) {
		errs = append(errs, invalid("size", s, model, SizeOptions(model)))
	}
	styles := StyleOptions(model)
	if s := opts.Style; s != "" && len(styles) > 0 && !contains(styles, s) {
		errs = append(errs, invalid("style", s, model, styles))
	}
	return errs
}

func invalid(field, value, model string, supported []string) string {
	return fmt.Sprintf("Invalid %s '%s' for model '%s'. Supported: %s", field, value, model, strings.Join(supported, ", "))
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
