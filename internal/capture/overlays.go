package capture

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Action is what a dismissal rule does to the elements it matches.
type Action string

const (
	// ActionClick clicks every visible match.
	ActionClick Action = "click"
	// ActionRemove deletes matches from the DOM.
	ActionRemove Action = "remove"
	// ActionEscape sends an Escape key press when the selector matches.
	ActionEscape Action = "escape"
)

// Rule pairs a CSS selector with a dismissal action. Rules are evaluated in
// order on every dismissal attempt.
type Rule struct {
	Name     string `yaml:"name"`
	Selector string `yaml:"selector"`
	Action   Action `yaml:"action"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules covers the subscription prompts and cookie banners seen on
// common charting sites.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "subscribe-close", Selector: `[data-name="close"], [data-dialog-name] button[aria-label="Close"]`, Action: ActionClick},
		{Name: "modal-close", Selector: `div[role="dialog"] button[aria-label*="lose"]`, Action: ActionClick},
		{Name: "generic-close", Selector: `button.close, .modal .close, [class*="closeButton"]`, Action: ActionClick},
		{Name: "cookie-accept", Selector: `button[id*="accept"], button[class*="accept"]`, Action: ActionClick},
		{Name: "toast", Selector: `[class*="toast"], [class*="snackbar"]`, Action: ActionRemove},
		{Name: "backdrop", Selector: `[class*="overlay-backdrop"], [class*="modalOverlay"]`, Action: ActionRemove},
		{Name: "escape", Selector: `div[role="dialog"]`, Action: ActionEscape},
	}
}

// LoadRules reads a YAML rule table. An empty path returns DefaultRules.
func LoadRules(path string) ([]Rule, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRules(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overlay rules: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules decodes and validates a YAML rule table.
func ParseRules(raw []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse overlay rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("overlay rules: no rules defined")
	}
	for i, r := range f.Rules {
		if strings.TrimSpace(r.Selector) == "" {
			return nil, fmt.Errorf("overlay rule %d: selector is required", i)
		}
		switch r.Action {
		case ActionClick, ActionRemove, ActionEscape:
		case "":
			f.Rules[i].Action = ActionClick
		default:
			return nil, fmt.Errorf("overlay rule %d: unknown action %q", i, r.Action)
		}
		if r.Name == "" {
			f.Rules[i].Name = fmt.Sprintf("rule-%d", i+1)
		}
	}
	return f.Rules, nil
}
