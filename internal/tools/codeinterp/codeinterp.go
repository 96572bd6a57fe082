// Package codeinterp attaches the hosted code interpreter tool to
// responses requests and extracts its executions and generated files.
package codeinterp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"

	"github.com/n0madic/go-llmportal/internal/tools"
	"github.com/n0madic/go-llmportal/internal/types"
)

const (
	ToolType      = "code_interpreter"
	ContainerAuto = "auto"
	// PythonTool is the tool_use name the upstream reports for executions.
	PythonTool = "python"
)

var validate = validator.New()

// Config selects the execution container. ContainerID wins over
// Container; with neither an auto container is requested.
type Config struct {
	ContainerID  string         `json:"containerId,omitempty"`
	Container    map[string]any `json:"container,omitempty"`
	Files        []string       `json:"files,omitempty"`
	Instructions string         `json:"instructions,omitempty"`

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
// and true yield nil. A bare use-case string, or a "useCase" field, seeds
// the config from Preset. Wrong-typed fields are dropped with a warning.
func DecodeConfig(raw []byte) (*Config, []string) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == "true" {
		return nil, nil
	}
	if s == "false" {
		return Disabled, nil
	}
	root := gjson.Parse(s)
	if root.Type == gjson.String {
		cfg := Preset(root.String())
		return &cfg, nil
	}
	if !root.IsObject() {
		return nil, []string{fmt.Sprintf("code interpreter config must be an object or false, got %s", root.Type)}
	}

	cfg := &Config{}
	var warnings []string
	if v := root.Get("useCase"); v.Exists() {
		if v.Type == gjson.String {
			preset := Preset(v.String())
			cfg = &preset
		} else {
			warnings = append(warnings, "useCase must be a string")
		}
	}
	if v := root.Get("containerId"); v.Exists() {
		if v.Type == gjson.String {
			cfg.ContainerID = v.String()
		} else {
			warnings = append(warnings, "containerId must be a string")
		}
	}
	if v := root.Get("container"); v.Exists() {
		if m, ok := v.Value().(map[string]any); ok {
			cfg.Container = m
		} else {
			warnings = append(warnings, "container must be an object")
		}
	}
	if v := root.Get("files"); v.Exists() {
		files, ok := stringArray(v)
		if ok {
			cfg.Files = files
		} else {
			warnings = append(warnings, "files must be an array of strings")
		}
	}
	if v := root.Get("instructions"); v.Exists() {
		if v.Type == gjson.String {
			cfg.Instructions = v.String()
		} else {
			warnings = append(warnings, "instructions must be a string")
		}
	}
	return cfg, warnings
}

func stringArray(v gjson.Result) ([]string, bool) {
	if !v.IsArray() {
		return nil, false
	}
	var out []string
	ok := true
	v.ForEach(func(_, s gjson.Result) bool {
		if s.Type != gjson.String {
			ok = false
			return false
		}
		out = append(out, s.String())
		return true
	})
	return out, ok
}

// mode returns the container type the tool will request.
func (c Config) mode() string {
	if strings.TrimSpace(c.ContainerID) != "" {
		return "id"
	}
	if c.Container != nil {
		t, _ := c.Container["type"].(string)
		return t
	}
	return ContainerAuto
}

// Validate returns a sanitized copy of cfg and a warning per dropped field.
// It never fails.
func Validate(cfg Config) (Config, []string) {
	out := cfg
	out.disabled = false
	out.ContainerID = strings.TrimSpace(out.ContainerID)
	var warnings []string

	if out.ContainerID != "" && out.Container != nil {
		warnings = append(warnings, "container ignored because containerId is set")
		out.Container = nil
	}
	if out.Container != nil {
		if t, _ := out.Container["type"].(string); t == "" {
			warnings = append(warnings, "container object without a type, using auto")
			out.Container = nil
		}
	}
	if len(out.Files) > 0 {
		var files []string
		for _, f := range out.Files {
			if validate.Var(f, "required,printascii") != nil || strings.ContainsAny(f, " \t\n") {
				warnings = append(warnings, fmt.Sprintf("invalid file id %q dropped", f))
				continue
			}
			files = append(files, f)
		}
		out.Files = files
		if len(out.Files) > 0 && out.mode() != ContainerAuto {
			warnings = append(warnings, "files are only forwarded to auto containers")
			out.Files = nil
		}
	}
	return out, warnings
}

// Tool renders the code_interpreter tool definition.
func Tool(cfg Config) map[string]any {
	tool := map[string]any{"type": ToolType}
	switch {
	case cfg.ContainerID != "":
		tool["container"] = cfg.ContainerID
	case cfg.Container != nil:
		container := make(map[string]any, len(cfg.Container)+1)
		for k, v := range cfg.Container {
			container[k] = v
		}
		if len(cfg.Files) > 0 && cfg.mode() == ContainerAuto {
			container["files"] = cfg.Files
		}
		tool["container"] = container
	default:
		container := map[string]any{"type": ContainerAuto}
		if len(cfg.Files) > 0 {
			container["files"] = cfg.Files
		}
		tool["container"] = container
	}
	return tool
}

// Attach appends the code interpreter tool to a responses body, keeping
// any tools already present.
func Attach(body []byte, cfg Config) ([]byte, error) {
	return tools.Append(body, Tool(cfg))
}

// Result is what the code interpreter produced in one response.
type Result struct {
	Executions     []types.CodeExecution
	GeneratedFiles []types.GeneratedFile
	ContainerID    string
}

// Used reports whether any execution took place.
func (r Result) Used() bool { return len(r.Executions) > 0 }

// Extract collects executions, generated files and the container used.
func Extract(items []types.OutputItem) Result {
	var res Result
	for _, item := range items {
		switch it := item.(type) {
		case types.CodeInterpreterCallItem:
			res.Executions = append(res.Executions, types.CodeExecution{
				ID:          it.ID,
				Code:        it.Code,
				Outputs:     it.Outputs,
				ContainerID: it.ContainerID,
				Status:      it.Status,
			})
			if it.ContainerID != "" {
				res.ContainerID = it.ContainerID
			}
		case types.ToolUseItem:
			if it.Type != types.KindToolUse || it.Name != PythonTool {
				continue
			}
			exec := types.CodeExecution{ID: it.ID, Code: it.Input, Error: it.Error}
			if it.Output != "" {
				exec.Outputs = []types.CodeOutput{{Type: "logs", Logs: it.Output}}
			}
			res.Executions = append(res.Executions, exec)
		case types.MessageItem:
			if it.Role != "" && it.Role != string(types.RoleAssistant) {
				continue
			}
			for _, c := range it.Content {
				for _, a := range c.Annotations {
					if f, ok := a.(types.FileCitationAnnotation); ok {
						res.GeneratedFiles = append(res.GeneratedFiles, f.GeneratedFile)
					}
				}
			}
		}
	}
	return res
}

// Use cases accepted by Preset.
const (
	UseCaseAuto          = "auto"
	UseCaseMath          = "math"
	UseCaseDataAnalysis  = "data_analysis"
	UseCaseVisualization = "visualization"
)

var presetInstructions = map[string]string{
	UseCaseMath:          "You are a math tutor. Use Python to solve mathematical problems step by step.",
	UseCaseDataAnalysis:  "You are a data analyst. Use Python with pandas, numpy, and matplotlib for data analysis.",
	UseCaseVisualization: "You are a data visualization expert. Create clear, informative charts and graphs using matplotlib, seaborn, or plotly.",
}

// Preset returns a tuned config for useCase. Unknown use cases get auto.
func Preset(useCase string) Config {
	return Config{
		Container:    map[string]any{"type": ContainerAuto},
		Instructions: presetInstructions[strings.ToLower(strings.TrimSpace(useCase))],
	}
}
