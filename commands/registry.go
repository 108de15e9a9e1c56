package commands

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"emperror.dev/errors"
)

// TriggerOwner is an active command's claim on a trigger.
type TriggerOwner struct {
	ID      string
	Trigger string
}

type registered struct {
	def         Definition
	handler     Handler
	hasOverride bool
}

// Registry owns the built-in commands. It keeps the unmodified default of
// every registered command, the stored overrides, and the effective
// definitions computed from both.
//
// Overrides are loaded once by Init, which must run before the first
// Register so that a pre-existing override is applied immediately.
type Registry struct {
	store OverrideStore

	// writeMu serializes every mutation that can change the set of active
	// triggers, across the registry and its custom store.
	writeMu sync.Mutex

	mu          sync.RWMutex
	initialized bool
	overrides   map[string]Override
	defaults    map[string]Definition
	commands    map[string]*registered
	custom      *CustomStore

	notify notifier
}

// NewRegistry returns a registry backed by store. Call Init before use.
func NewRegistry(store OverrideStore) *Registry {
	return &Registry{
		store:     store,
		overrides: make(map[string]Override),
		defaults:  make(map[string]Definition),
		commands:  make(map[string]*registered),
	}
}

// Init loads the stored overrides. Calling it again is a no-op.
func (r *Registry) Init(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	done := r.initialized
	r.mu.RUnlock()
	if done {
		return nil
	}

	loaded, err := r.store.LoadOverrides(ctx)
	if err != nil {
		return persistenceError(err, "load overrides", "")
	}

	r.mu.Lock()
	for id, o := range loaded {
		r.overrides[id] = cloneOverride(o)
	}
	r.initialized = true
	r.mu.Unlock()

	slog.Debug("loaded system command overrides", slog.Int("count", len(loaded)), slog.String("component", "commands"))
	return nil
}

// Close drops all subscribers.
func (r *Registry) Close() {
	r.notify.clear()
}

// Subscribe registers fn for change events and returns the unsubscribe func.
func (r *Registry) Subscribe(fn func(ChangeEvent)) func() {
	return r.notify.subscribe(fn)
}

// Register adds a built-in command, applying its stored override if one
// exists. Registering an id again replaces the handler and default and
// recomputes the effective definition.
func (r *Registry) Register(cmd SystemCommand) error {
	def := cmd.Definition
	if err := def.Validate(); err != nil {
		return err
	}
	if cmd.Handler == nil {
		return errors.WithDetails(errors.WithMessage(ErrValidation, "command handler is required"), "id", def.ID)
	}
	if def.Type == "" {
		def.Type = TypeSystem
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	initialized := r.initialized
	override, hasOverride := r.overrides[def.ID]
	r.mu.RUnlock()
	if !initialized {
		return ErrNotInitialized
	}

	effective := cloneDefinition(def)
	if hasOverride {
		effective = Merge(def, override)
	}
	if effective.Active {
		if owner, taken := r.triggerOwner(effective.Trigger, def.ID); taken {
			return errors.WithDetails(ErrTriggerConflict, "id", def.ID, "trigger", effective.Trigger, "owner", owner)
		}
	}

	r.mu.Lock()
	r.defaults[def.ID] = cloneDefinition(def)
	r.commands[def.ID] = &registered{def: effective, handler: cmd.Handler, hasOverride: hasOverride}
	r.mu.Unlock()

	if hasOverride {
		slog.Debug("registered system command with override", slog.String("id", def.ID))
	} else {
		slog.Debug("registered system command without override", slog.String("id", def.ID))
	}
	r.emit()
	return nil
}

// Unregister removes a command from the active set. Its default and any
// stored override are kept for a later Register.
func (r *Registry) Unregister(id string) {
	r.writeMu.Lock()
	r.mu.Lock()
	_, ok := r.commands[id]
	delete(r.commands, id)
	r.mu.Unlock()
	r.writeMu.Unlock()

	if ok {
		slog.Debug("unregistered system command", slog.String("id", id))
		r.emit()
	}
}

// SaveDefinition stores a full edited definition as the override for its id.
func (r *Registry) SaveDefinition(ctx context.Context, d Definition) (Definition, error) {
	return r.SaveOverride(ctx, OverrideFromDefinition(d))
}

// SaveOverride persists o and returns the new effective definition. The
// default definition is never touched.
func (r *Registry) SaveOverride(ctx context.Context, o Override) (Definition, error) {
	if strings.TrimSpace(o.ID) == "" {
		return Definition{}, errors.WithMessage(ErrValidation, "override id is required")
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	def, known := r.defaults[o.ID]
	r.mu.RUnlock()
	if !known {
		return Definition{}, errors.WithDetails(ErrUnknownCommand, "id", o.ID)
	}

	effective := Merge(def, o)
	if err := effective.Validate(); err != nil {
		return Definition{}, err
	}
	if effective.Active {
		if owner, taken := r.triggerOwner(effective.Trigger, o.ID); taken {
			return Definition{}, errors.WithDetails(ErrTriggerConflict, "id", o.ID, "trigger", effective.Trigger, "owner", owner)
		}
	}

	stored := cloneOverride(o)
	if err := r.store.SaveOverride(ctx, stored); err != nil {
		slog.Error("failed to save system command override", slog.String("id", o.ID), slog.Any("err", err))
		return Definition{}, persistenceError(err, "save override", o.ID)
	}

	r.mu.Lock()
	r.overrides[o.ID] = stored
	if c, ok := r.commands[o.ID]; ok {
		c.def = effective
		c.hasOverride = true
	}
	r.mu.Unlock()

	r.emit()
	return cloneDefinition(effective), nil
}

// DeleteOverride removes the stored override for id. With deleteDefault the
// command is forgotten entirely; otherwise its effective definition reverts
// to the default.
func (r *Registry) DeleteOverride(ctx context.Context, id string, deleteDefault bool) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	def, known := r.defaults[id]
	_, hasOverride := r.overrides[id]
	c, isRegistered := r.commands[id]
	active := isRegistered && def.Active
	r.mu.RUnlock()

	if !known && !hasOverride {
		return errors.WithDetails(ErrUnknownCommand, "id", id)
	}
	if !deleteDefault && active && c.hasOverride {
		if owner, taken := r.triggerOwner(def.Trigger, id); taken {
			return errors.WithDetails(ErrTriggerConflict, "id", id, "trigger", def.Trigger, "owner", owner)
		}
	}

	if hasOverride {
		if err := r.store.DeleteOverride(ctx, id); err != nil {
			slog.Error("failed to delete system command override", slog.String("id", id), slog.Any("err", err))
			return persistenceError(err, "delete override", id)
		}
	}

	r.mu.Lock()
	delete(r.overrides, id)
	if deleteDefault {
		delete(r.defaults, id)
		delete(r.commands, id)
	} else if c, ok := r.commands[id]; ok {
		c.def = cloneDefinition(def)
		c.hasOverride = false
	}
	r.mu.Unlock()

	r.emit()
	return nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.commands[id]
	return ok
}

// HasOverride reports whether a stored override exists for id.
func (r *Registry) HasOverride(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.overrides[id]
	return ok
}

// Get returns the registered command with its effective definition.
func (r *Registry) Get(id string) (SystemCommand, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[id]
	if !ok {
		return SystemCommand{}, false
	}
	return SystemCommand{Definition: cloneDefinition(c.def), Handler: c.handler}, true
}

// Default returns the built-in definition for id.
func (r *Registry) Default(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defaults[id]
	if !ok {
		return Definition{}, false
	}
	return cloneDefinition(d), true
}

// Trigger returns the effective trigger of id; ok is false when the command
// is unknown or has no trigger.
func (r *Registry) Trigger(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[id]
	if !ok || c.def.Trigger == "" {
		return "", false
	}
	return c.def.Trigger, true
}

// All returns the effective definitions of all registered commands, by id.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allLocked()
}

func (r *Registry) allLocked() []Definition {
	out := make([]Definition, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, cloneDefinition(c.def))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveTriggers lists the triggers owned by active system commands.
func (r *Registry) ActiveTriggers() []TriggerOwner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TriggerOwner, 0, len(r.commands))
	for id, c := range r.commands {
		if c.def.Active {
			out = append(out, TriggerOwner{ID: id, Trigger: c.def.Trigger})
		}
	}
	return out
}

// TriggerIsTaken reports whether any active system or custom command owns
// trigger, ignoring case.
func (r *Registry) TriggerIsTaken(trigger string) bool {
	_, taken := r.triggerOwner(trigger, "")
	return taken
}

// triggerOwner finds an active command other than exceptID that owns trigger.
func (r *Registry) triggerOwner(trigger, exceptID string) (string, bool) {
	owners := r.ActiveTriggers()
	r.mu.RLock()
	cs := r.custom
	r.mu.RUnlock()
	if cs != nil {
		owners = append(owners, cs.ActiveTriggers()...)
	}
	for _, o := range owners {
		if o.ID != exceptID && strings.EqualFold(o.Trigger, trigger) {
			return o.ID, true
		}
	}
	return "", false
}

// snapshot returns the registered commands for matching, ordered by id.
func (r *Registry) snapshot() []registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]registered, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, registered{def: c.def, handler: c.handler, hasOverride: c.hasOverride})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].def.ID < out[j].def.ID })
	return out
}

func (r *Registry) emit() {
	r.notify.emit(ChangeEvent{Kind: SystemCommandsChanged, Commands: r.All()})
}

func (r *Registry) attachCustom(cs *CustomStore) {
	r.mu.Lock()
	r.custom = cs
	r.mu.Unlock()
}

func cloneOverride(o Override) Override {
	out := o
	out.Name = clonePtr(o.Name)
	out.Description = clonePtr(o.Description)
	out.BaseCommandDescription = clonePtr(o.BaseCommandDescription)
	out.Usage = clonePtr(o.Usage)
	out.Trigger = clonePtr(o.Trigger)
	out.Active = clonePtr(o.Active)
	out.AutoDeleteTrigger = clonePtr(o.AutoDeleteTrigger)
	out.ScanWholeMessage = clonePtr(o.ScanWholeMessage)
	out.Hidden = clonePtr(o.Hidden)
	out.HideCooldowns = clonePtr(o.HideCooldowns)
	out.Cooldown = cloneCooldown(o.Cooldown)
	out.RestrictionData = cloneRestrictionData(o.RestrictionData)
	if o.Options != nil {
		out.Options = make(map[string]Option, len(o.Options))
		for k, v := range o.Options {
			out.Options[k] = v
		}
	}
	if o.SubCommands != nil {
		out.SubCommands = make([]SubCommand, len(o.SubCommands))
		for i, sc := range o.SubCommands {
			out.SubCommands[i] = cloneSubCommand(sc)
		}
	}
	return out
}
