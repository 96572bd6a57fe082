package models

import (
	"sort"
	"strings"
)

// Group names used by Catalog.
const (
	GroupChat          = "chat"
	GroupResponses     = "responses"
	GroupImage         = "image"
	GroupTranscription = "transcription"
	GroupTTS           = "tts"
)

// CatalogGroup lists the statically known ids served by one handler family.
type CatalogGroup struct {
	Name   string   `json:"name"`
	Models []string `json:"models"`
}

// Catalog returns every statically known id grouped by the handler family
// that serves it. Order within a group follows the static table.
func Catalog() []CatalogGroup {
	groups := []CatalogGroup{
		{Name: GroupChat},
		{Name: GroupResponses},
		{Name: GroupImage},
		{Name: GroupTranscription},
		{Name: GroupTTS},
	}
	idx := map[string]int{}
	for i, g := range groups {
		idx[g.Name] = i
	}
	for _, e := range staticTable {
		name := GroupFor(Classify(e.id))
		if i, ok := idx[name]; ok {
			groups[i].Models = append(groups[i].Models, e.id)
		}
	}
	return groups
}

// GroupFor names the handler family a capability record belongs to, using
// the same precedence as dispatch.
func GroupFor(c Capabilities) string {
	switch {
	case c.Reasoning, c.CodeInterpreter:
		return GroupResponses
	case c.WebSearch == WebSearchResponses:
		return GroupResponses
	case c.Chat:
		return GroupChat
	case c.ImageGeneration:
		return GroupImage
	case c.Transcription:
		return GroupTranscription
	case c.TTS:
		return GroupTTS
	default:
		return ""
	}
}

// KnownIDs returns every static id, sorted.
func KnownIDs() []string {
	ids := make([]string, 0, len(staticTable))
	for _, e := range staticTable {
		ids = append(ids, e.id)
	}
	sort.Strings(ids)
	return ids
}

var modelMapping = map[string]string{
	"gpt4":           "gpt-4",
	"gpt4o":          "gpt-4o",
	"gpt-4o-latest":  "gpt-4o",
	"gpt4o-mini":     "gpt-4o-mini",
	"gpt4.1":         "gpt-4.1",
	"gpt-4.1-latest": "gpt-4.1",
	"gpt4.1-mini":    "gpt-4.1-mini",
	"gpt4.1-nano":    "gpt-4.1-nano",
	"gpt-35-turbo":   "gpt-3.5-turbo",
	"gpt3.5-turbo":   "gpt-3.5-turbo",
	"o1-latest":      "o1",
	"o3-latest":      "o3",
	"o3-mini-latest": "o3-mini",
	"o4-mini-latest": "o4-mini",
	"dalle3":         "dall-e-3",
	"dall-e3":        "dall-e-3",
	"dalle2":         "dall-e-2",
	"dall-e2":        "dall-e-2",
	"whisper":        "whisper-1",
	"tts":            "tts-1",
	"tts-hd":         "tts-1-hd",
}

var effortSuffixes = []string{"minimal", "low", "medium", "high"}

// vendorPrefixes are stripped so "openai/gpt-4o" resolves like "gpt-4o".
var vendorPrefixes = []string{"openai/", "openai:"}

// NormalizeModelName lowercases, strips a vendor prefix and any ":tag",
// maps aliases to canonical ids and drops a reasoning effort suffix
// ("o3-mini-high" becomes "o3-mini").
func NormalizeModelName(name string) string {
	base, _ := SplitEffort(name)
	return base
}

// SplitEffort is NormalizeModelName that also returns the stripped effort
// suffix, or "" when none was present.
func SplitEffort(name string) (string, string) {
	base := strings.ToLower(strings.TrimSpace(name))
	for _, p := range vendorPrefixes {
		base = strings.TrimPrefix(base, p)
	}
	base = strings.TrimSpace(strings.SplitN(base, ":", 2)[0])
	if mapped, ok := modelMapping[base]; ok {
		return mapped, ""
	}

	for _, sep := range []string{"-", "_"} {
		for _, effort := range effortSuffixes {
			suffix := sep + effort
			if !strings.HasSuffix(base, suffix) {
				continue
			}
			trimmed := base[:len(base)-len(suffix)]
			if mapped, ok := modelMapping[trimmed]; ok {
				trimmed = mapped
			}
			if Classify(trimmed).Reasoning {
				return trimmed, effort
			}
		}
	}
	return base, ""
}
