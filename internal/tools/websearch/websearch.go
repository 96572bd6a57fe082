// Package websearch validates caller web search settings and attaches the
// hosted web search tool to chat and responses request bodies.
package websearch

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/n0madic/go-llmportal/internal/tools"
	"github.com/n0madic/go-llmportal/internal/types"
)

const (
	ToolType           = "web_search_preview"
	ToolName           = "web_search"
	DefaultContextSize = "medium"
)

// ContextSizes lists the accepted search_context_size values.
var ContextSizes = []string{"low", "medium", "high"}

// LocationFields lists the accepted user location keys.
var LocationFields = []string{"country", "city", "region", "timezone"}

var validate = validator.New()

// Location is an approximate user location.
type Location struct {
	Country  string `json:"country,omitempty"`
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

func (l *Location) empty() bool {
	return l == nil || (l.Country == "" && l.City == "" && l.Region == "" && l.Timezone == "")
}

// Config is a caller's web search settings. The zero value enables search
// with upstream defaults.
type Config struct {
	SearchContextSize string    `json:"searchContextSize,omitempty"`
	UserLocation      *Location `json:"userLocation,omitempty"`
	AllowedDomains    []string  `json:"allowedDomains,omitempty"`
	BlockedDomains    []string  `json:"blockedDomains,omitempty"`
	MaxUses           int       `json:"maxUses,omitempty"`

	disabled bool
}

// Disabled is the explicit opt-out, decoded from a JSON false.
var Disabled = &Config{disabled: true}

// IsDisabled reports whether c is the explicit opt-out.
func (c *Config) IsDisabled() bool { return c != nil && c.disabled }

// MarshalJSON renders Disabled as false.
func (c *Config) MarshalJSON() ([]byte, error) {
	if c.IsDisabled() {
		return []byte("false"), nil
	}
	type plain Config
	return json.Marshal((*plain)(c))
}

// UnmarshalJSON decodes leniently; see DecodeConfig.
func (c *Config) UnmarshalJSON(data []byte) error {
	cfg, _ := DecodeConfig(data)
	if cfg == nil {
		*c = Config{}
		return nil
	}
	*c = *cfg
	return nil
}

// DecodeConfig reads a caller config. false yields Disabled; absent, null
// and true yield nil (defaults apply). Fields of the wrong type are dropped
// and reported as warnings rather than failing the whole config.
func DecodeConfig(raw []byte) (*Config, []string) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == "true" {
		return nil, nil
	}
	if s == "false" {
		return Disabled, nil
	}
	root := gjson.Parse(s)
	if !root.IsObject() {
		return nil, []string{fmt.Sprintf("web search config must be an object or false, got %s", root.Type)}
	}

	cfg := &Config{}
	var warnings []string
	if v := root.Get("searchContextSize"); v.Exists() {
		if v.Type == gjson.String {
			cfg.SearchContextSize = v.String()
		} else {
			warnings = append(warnings, "searchContextSize must be a string")
		}
	}
	if v := root.Get("userLocation"); v.Exists() {
		if v.IsObject() {
			loc, w := decodeLocation(v)
			cfg.UserLocation = loc
			warnings = append(warnings, w...)
		} else {
			warnings = append(warnings, "userLocation must be an object")
		}
	}
	var w []string
	cfg.AllowedDomains, w = decodeDomains(root.Get("allowedDomains"), "allowedDomains")
	warnings = append(warnings, w...)
	cfg.BlockedDomains, w = decodeDomains(root.Get("blockedDomains"), "blockedDomains")
	warnings = append(warnings, w...)
	if v := root.Get("maxUses"); v.Exists() {
		switch {
		case v.Type != gjson.Number || v.Num < 1:
			warnings = append(warnings, "maxUses must be a positive number")
		case v.Num != math.Trunc(v.Num):
			cfg.MaxUses = int(v.Num)
			warnings = append(warnings, fmt.Sprintf("maxUses %g rounded down to %d", v.Num, cfg.MaxUses))
		default:
			cfg.MaxUses = int(v.Num)
		}
	}
	return cfg, warnings
}

func decodeLocation(v gjson.Result) (*Location, []string) {
	loc := &Location{}
	var warnings []string
	v.ForEach(func(key, val gjson.Result) bool {
		if val.Type != gjson.String {
			warnings = append(warnings, fmt.Sprintf("userLocation.%s must be a string", key.String()))
			return true
		}
		switch key.String() {
		case "country":
			loc.Country = val.String()
		case "city":
			loc.City = val.String()
		case "region":
			loc.Region = val.String()
		case "timezone":
			loc.Timezone = val.String()
		default:
			warnings = append(warnings, "invalid user location field: "+key.String())
		}
		return true
	})
	return loc, warnings
}

func decodeDomains(v gjson.Result, field string) ([]string, []string) {
	if !v.Exists() {
		return nil, nil
	}
	if !v.IsArray() {
		return nil, []string{field + " must be an array"}
	}
	var out []string
	ok := true
	v.ForEach(func(_, d gjson.Result) bool {
		if d.Type != gjson.String {
			ok = false
			return false
		}
		out = append(out, d.String())
		return true
	})
	if !ok {
		return nil, []string{field + " must be an array of strings"}
	}
	return out, nil
}

// Validate returns a sanitized copy of cfg and a warning per dropped or
// reset field. It never fails.
func Validate(cfg Config) (Config, []string) {
	out := cfg
	out.disabled = false
	var warnings []string

	if out.SearchContextSize != "" && validate.Var(out.SearchContextSize, "oneof=low medium high") != nil {
		warnings = append(warnings, fmt.Sprintf("invalid search context size %q, using %s", out.SearchContextSize, DefaultContextSize))
		out.SearchContextSize = DefaultContextSize
	}
	if out.UserLocation != nil {
		loc := *out.UserLocation
		if loc.Country != "" && validate.Var(loc.Country, "len=2") != nil {
			warnings = append(warnings, fmt.Sprintf("invalid country code %q, should be 2 letters", loc.Country))
			loc.Country = ""
		}
		out.UserLocation = &loc
		if loc.empty() {
			out.UserLocation = nil
		}
	}
	if out.MaxUses < 0 {
		warnings = append(warnings, "maxUses must be a positive number")
		out.MaxUses = 0
	}
	return out, warnings
}

// ChatOptions renders the chat completions web_search_options object.
func ChatOptions(cfg Config) map[string]any {
	opts := map[string]any{}
	if cfg.SearchContextSize != "" {
		opts["search_context_size"] = cfg.SearchContextSize
	}
	if !cfg.UserLocation.empty() {
		opts["user_location"] = map[string]any{
			"type":        "approximate",
			"approximate": cfg.UserLocation,
		}
	}
	return opts
}

// Tool renders the responses web search tool definition.
func Tool(cfg Config) map[string]any {
	tool := map[string]any{"type": ToolType, "name": ToolName}
	if cfg.SearchContextSize != "" {
		tool["search_context_size"] = cfg.SearchContextSize
	}
	if cfg.MaxUses > 0 {
		tool["max_uses"] = cfg.MaxUses
	}
	if cfg.AllowedDomains != nil {
		tool["allowed_domains"] = cfg.AllowedDomains
	}
	if cfg.BlockedDomains != nil {
		tool["blocked_domains"] = cfg.BlockedDomains
	}
	if loc := cfg.UserLocation; !loc.empty() {
		ul := map[string]any{"type": "approximate"}
		for k, v := range map[string]string{"country": loc.Country, "city": loc.City, "region": loc.Region, "timezone": loc.Timezone} {
			if v != "" {
				ul[k] = v
			}
		}
		tool["user_location"] = ul
	}
	return tool
}

// AttachChat sets web_search_options on a chat completions body. The
// object is empty when no option survived validation.
func AttachChat(body []byte, cfg Config) ([]byte, error) {
	return sjson.SetBytes(body, "web_search_options", ChatOptions(cfg))
}

// AttachResponses appends the web search tool to a responses body,
// keeping any tools already present.
func AttachResponses(body []byte, cfg Config) ([]byte, error) {
	return tools.Append(body, Tool(cfg))
}

// ChatCitations returns the url_citation annotations of a chat message.
func ChatCitations(annotations []types.Annotation) []types.Citation {
	var out []types.Citation
	for _, a := range annotations {
		if c, ok := a.(types.URLCitationAnnotation); ok {
			out = append(out, c.Citation)
		}
	}
	return out
}

// ResponseCitations collects url citations from assistant messages and
// reports whether the search tool ran. Citations are returned whether or
// not a search call is present.
func ResponseCitations(items []types.OutputItem) (citations []types.Citation, used bool) {
	for _, item := range items {
		switch it := item.(type) {
		case types.WebSearchCallItem:
			used = true
		case types.ToolUseItem:
			if it.Name == ToolName {
				used = true
			}
		case types.MessageItem:
			if it.Role != "" && it.Role != string(types.RoleAssistant) {
				continue
			}
			for _, c := range it.Content {
				citations = append(citations, ChatCitations(c.Annotations)...)
			}
		}
	}
	return citations, used
}
