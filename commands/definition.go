// Package commands implements the chat command core: command definitions and
// the override merge, the system command registry, the custom command store,
// and the dispatcher that turns chat messages into handler invocations.
package commands

import (
	"encoding/json"
	"strings"

	"emperror.dev/errors"
)

// Type distinguishes built-in from user-authored commands.
type Type string

const (
	TypeSystem Type = "system"
	TypeCustom Type = "custom"
)

// Cooldown holds cooldown lengths in seconds.
type Cooldown struct {
	User   int `json:"user"`
	Global int `json:"global"`
}

// RestrictionMode decides how many restrictions must pass.
type RestrictionMode string

const (
	RestrictionModeAll  RestrictionMode = "all"
	RestrictionModeAny  RestrictionMode = "any"
	RestrictionModeNone RestrictionMode = "none"
)

// Restriction is a single role or viewer based rule.
type Restriction struct {
	ID        string   `json:"id,omitempty"`
	Type      string   `json:"type"`
	Mode      string   `json:"mode,omitempty"`
	RoleIDs   []string `json:"roleIds,omitempty"`
	Usernames []string `json:"usernames,omitempty"`
}

// RestrictionData is the restriction list attached to a command or sub-command.
type RestrictionData struct {
	Restrictions    []Restriction   `json:"restrictions"`
	Mode            RestrictionMode `json:"mode,omitempty"`
	SendFailMessage bool            `json:"sendFailMessage,omitempty"`
	FailMessage     string          `json:"failMessage,omitempty"`
}

// Option is a user-configurable command parameter.
type Option struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Tip         string `json:"tip,omitempty"`
	Default     any    `json:"default"`
	Value       any    `json:"value,omitempty"`
	UseTextArea bool   `json:"useTextArea,omitempty"`
}

// Resolved returns the option value, falling back to its default.
func (o Option) Resolved() any {
	if o.Value != nil {
		return o.Value
	}
	return o.Default
}

// SubCommand is a second dispatch level selected by the first argument.
// Pointer fields are the ones a user override may change.
type SubCommand struct {
	ID          string `json:"id,omitempty"`
	Arg         string `json:"arg"`
	Usage       string `json:"usage,omitempty"`
	Description string `json:"description,omitempty"`
	Regex       bool   `json:"regex,omitempty"`
	Fallback    bool   `json:"fallback,omitempty"`

	MinArgs           *int             `json:"minArgs,omitempty"`
	Active            *bool            `json:"active,omitempty"`
	Hidden            *bool            `json:"hidden,omitempty"`
	AutoDeleteTrigger *bool            `json:"autoDeleteTrigger,omitempty"`
	Cooldown          *Cooldown        `json:"cooldown,omitempty"`
	RestrictionData   *RestrictionData `json:"restrictionData,omitempty"`

	Effects json.RawMessage `json:"effects,omitempty"`
}

// Identity is the key used to pair a sub-command with its override.
func (sc SubCommand) Identity() string {
	if sc.ID != "" {
		return sc.ID
	}
	return sc.Arg
}

// IsActive reports whether the sub-command can be matched. Unset means active.
func (sc SubCommand) IsActive() bool {
	return sc.Active == nil || *sc.Active
}

// Definition describes a command. System and custom commands share it.
type Definition struct {
	ID                     string `json:"id"`
	Name                   string `json:"name,omitempty"`
	Description            string `json:"description,omitempty"`
	Type                   Type   `json:"type,omitempty"`
	BaseCommandDescription string `json:"baseCommandDescription,omitempty"`
	Usage                  string `json:"usage,omitempty"`

	Trigger           string `json:"trigger"`
	TriggerIsRegex    bool   `json:"triggerIsRegex,omitempty"`
	Active            bool   `json:"active"`
	AutoDeleteTrigger bool   `json:"autoDeleteTrigger"`
	ScanWholeMessage  bool   `json:"scanWholeMessage"`
	Hidden            bool   `json:"hidden"`
	HideCooldowns     bool   `json:"hideCooldowns,omitempty"`

	Cooldown        *Cooldown         `json:"cooldown,omitempty"`
	RestrictionData *RestrictionData  `json:"restrictionData,omitempty"`
	Options         map[string]Option `json:"options,omitempty"`
	SubCommands     []SubCommand      `json:"subCommands,omitempty"`
	Effects         json.RawMessage   `json:"effects,omitempty"`
}

// Validate checks the fields every command needs.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.WithDetails(errors.WithMessage(ErrValidation, "command id is required"), "trigger", d.Trigger)
	}
	if strings.TrimSpace(d.Trigger) == "" {
		return errors.WithDetails(errors.WithMessage(ErrValidation, "command trigger is required"), "id", d.ID)
	}
	return nil
}

// ResolvedOptions returns option key to resolved value.
func (d Definition) ResolvedOptions() Options {
	out := make(Options, len(d.Options))
	for k, o := range d.Options {
		out[k] = o.Resolved()
	}
	return out
}

// SubCommandByID finds a sub-command by identity.
func (d Definition) SubCommandByID(id string) (SubCommand, bool) {
	for _, sc := range d.SubCommands {
		if sc.Identity() == id {
			return sc, true
		}
	}
	return SubCommand{}, false
}

// Override is a stored user modification of a system command. A nil field
// means "not overridden".
type Override struct {
	ID string `json:"id"`

	Name                   *string `json:"name,omitempty"`
	Description            *string `json:"description,omitempty"`
	BaseCommandDescription *string `json:"baseCommandDescription,omitempty"`
	Usage                  *string `json:"usage,omitempty"`
	Trigger                *string `json:"trigger,omitempty"`
	Active                 *bool   `json:"active,omitempty"`
	AutoDeleteTrigger      *bool   `json:"autoDeleteTrigger,omitempty"`
	ScanWholeMessage       *bool   `json:"scanWholeMessage,omitempty"`
	Hidden                 *bool   `json:"hidden,omitempty"`
	HideCooldowns          *bool   `json:"hideCooldowns,omitempty"`

	Cooldown        *Cooldown         `json:"cooldown,omitempty"`
	RestrictionData *RestrictionData  `json:"restrictionData,omitempty"`
	Options         map[string]Option `json:"options,omitempty"`
	SubCommands     []SubCommand      `json:"subCommands,omitempty"`
}

// OverrideFromDefinition turns a full definition, as edited in a UI, into an
// override in which every field is present.
func OverrideFromDefinition(d Definition) Override {
	d = cloneDefinition(d)
	return Override{
		ID:                     d.ID,
		Name:                   ptr(d.Name),
		Description:            ptr(d.Description),
		BaseCommandDescription: ptr(d.BaseCommandDescription),
		Usage:                  ptr(d.Usage),
		Trigger:                ptr(d.Trigger),
		Active:                 ptr(d.Active),
		AutoDeleteTrigger:      ptr(d.AutoDeleteTrigger),
		ScanWholeMessage:       ptr(d.ScanWholeMessage),
		Hidden:                 ptr(d.Hidden),
		HideCooldowns:          ptr(d.HideCooldowns),
		Cooldown:               d.Cooldown,
		RestrictionData:        d.RestrictionData,
		Options:                d.Options,
		SubCommands:            d.SubCommands,
	}
}

// Options is the resolved option set handed to handlers.
type Options map[string]any

// String returns a string option or "".
func (o Options) String(key string) string {
	switch v := o[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return strings.Trim(string(b), `"`)
	}
}

// Int returns a numeric option; JSON numbers decode as float64.
func (o Options) Int(key string) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

// Float returns a numeric option as float64.
func (o Options) Float(key string) float64 {
	switch v := o[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

// Bool returns a boolean option.
func (o Options) Bool(key string) bool {
	v, _ := o[key].(bool)
	return v
}

func ptr[T any](v T) *T { return &v }
