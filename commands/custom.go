package commands

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/google/uuid"
)

// CustomCommand is a user-authored command. Its effects are run by an
// EffectRunner instead of a handler.
type CustomCommand struct {
	Definition

	Aliases          []string   `json:"aliases,omitempty"`
	Simple           bool       `json:"simple,omitempty"`
	RegexDescription string     `json:"regexDescription,omitempty"`
	CreatedBy        string     `json:"createdBy,omitempty"`
	CreatedAt        *time.Time `json:"createdAt,omitempty"`
	LastEditBy       string     `json:"lastEditBy,omitempty"`
	LastEditAt       *time.Time `json:"lastEditAt,omitempty"`
	Count            int        `json:"count"`
	IgnoreBot        bool       `json:"ignoreBot,omitempty"`
	IgnoreStreamer   bool       `json:"ignoreStreamer,omitempty"`
	SortTags         []string   `json:"sortTags,omitempty"`
}

// Triggers returns the trigger followed by the aliases.
func (c CustomCommand) Triggers() []string {
	out := make([]string, 0, 1+len(c.Aliases))
	out = append(out, c.Trigger)
	for _, a := range c.Aliases {
		if strings.TrimSpace(a) != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c CustomCommand) validate() error {
	if strings.TrimSpace(c.Trigger) == "" {
		return errors.WithDetails(errors.WithMessage(ErrValidation, "command trigger is required"), "id", c.ID)
	}
	if c.TriggerIsRegex {
		if _, err := regexp.Compile(c.Trigger); err != nil {
			return errors.WithDetails(errors.WithMessage(ErrValidation, "invalid trigger pattern"), "trigger", c.Trigger, "cause", err.Error())
		}
	}
	return nil
}

func cloneCustom(c CustomCommand) CustomCommand {
	out := c
	out.Definition = cloneDefinition(c.Definition)
	out.Aliases = cloneStrings(c.Aliases)
	out.SortTags = cloneStrings(c.SortTags)
	out.CreatedAt = clonePtr(c.CreatedAt)
	out.LastEditAt = clonePtr(c.LastEditAt)
	return out
}

// CustomStore holds the custom commands in memory, backed by a
// CustomCommandStore. It shares trigger bookkeeping with the registry it was
// created for.
type CustomStore struct {
	store CustomCommandStore
	reg   *Registry
	now   func() time.Time
	newID func() string

	mu    sync.RWMutex
	items map[string]CustomCommand

	notify notifier
}

// NewCustomStore links a custom store to reg so both enforce trigger
// uniqueness against each other.
func NewCustomStore(store CustomCommandStore, reg *Registry) *CustomStore {
	cs := &CustomStore{
		store: store,
		reg:   reg,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
		items: make(map[string]CustomCommand),
	}
	reg.attachCustom(cs)
	return cs
}

// Init loads all custom commands from the backing store.
func (s *CustomStore) Init(ctx context.Context) error {
	loaded, err := s.store.LoadAll(ctx)
	if err != nil {
		return persistenceError(err, "load custom commands", "")
	}
	s.mu.Lock()
	for id, c := range loaded {
		c.ID = id
		c.Type = TypeCustom
		s.items[id] = c
	}
	s.mu.Unlock()
	slog.Debug("loaded custom commands", slog.Int("count", len(loaded)), slog.String("component", "commands"))
	s.emit()
	return nil
}

// Subscribe registers fn for change events and returns the unsubscribe func.
func (s *CustomStore) Subscribe(fn func(ChangeEvent)) func() {
	return s.notify.subscribe(fn)
}

// Close drops all subscribers.
func (s *CustomStore) Close() {
	s.notify.clear()
}

// Save creates or updates a custom command on behalf of author. New
// commands get an id and creation stamp; existing ones an edit stamp.
func (s *CustomStore) Save(ctx context.Context, cmd CustomCommand, author string) (CustomCommand, error) {
	if err := cmd.validate(); err != nil {
		return CustomCommand{}, err
	}

	s.reg.writeMu.Lock()
	defer s.reg.writeMu.Unlock()

	saved := cloneCustom(cmd)
	saved.Type = TypeCustom
	now := s.now()
	if saved.ID == "" {
		saved.ID = s.newID()
		saved.CreatedAt = &now
		saved.CreatedBy = author
	} else {
		s.mu.RLock()
		prev, exists := s.items[saved.ID]
		s.mu.RUnlock()
		if exists {
			if saved.CreatedAt == nil {
				saved.CreatedAt = clonePtr(prev.CreatedAt)
			}
			if saved.CreatedBy == "" {
				saved.CreatedBy = prev.CreatedBy
			}
		}
		saved.LastEditAt = &now
		saved.LastEditBy = author
	}
	if saved.Count < 0 {
		saved.Count = 0
	}

	if saved.Active {
		for _, t := range saved.Triggers() {
			if owner, taken := s.reg.triggerOwner(t, saved.ID); taken {
				return CustomCommand{}, errors.WithDetails(ErrTriggerConflict, "id", saved.ID, "trigger", t, "owner", owner)
			}
		}
	}

	if err := s.store.Save(ctx, saved); err != nil {
		slog.Error("failed to save custom command", slog.String("id", saved.ID), slog.String("trigger", saved.Trigger), slog.Any("err", err))
		return CustomCommand{}, persistenceError(err, "save custom command", saved.ID)
	}

	s.mu.Lock()
	s.items[saved.ID] = saved
	s.mu.Unlock()

	s.emit()
	return cloneCustom(saved), nil
}

// DeleteByID removes a custom command.
func (s *CustomStore) DeleteByID(ctx context.Context, id string) error {
	s.reg.writeMu.Lock()
	defer s.reg.writeMu.Unlock()

	s.mu.RLock()
	_, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return errors.WithDetails(ErrUnknownCommand, "id", id)
	}
	return s.deleteLocked(ctx, id)
}

// DeleteByTrigger removes the custom command whose trigger equals trigger,
// ignoring case. It reports whether a command was deleted; no match is not
// an error.
func (s *CustomStore) DeleteByTrigger(ctx context.Context, trigger string) (bool, error) {
	s.reg.writeMu.Lock()
	defer s.reg.writeMu.Unlock()

	s.mu.RLock()
	var id string
	for _, c := range s.sortedLocked() {
		if strings.EqualFold(c.Trigger, trigger) {
			id = c.ID
			break
		}
	}
	s.mu.RUnlock()
	if id == "" {
		slog.Debug("no custom command to delete for trigger", slog.String("trigger", trigger))
		return false, nil
	}
	if err := s.deleteLocked(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

func (s *CustomStore) deleteLocked(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		slog.Error("failed to delete custom command", slog.String("id", id), slog.Any("err", err))
		return persistenceError(err, "delete custom command", id)
	}
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	s.emit()
	return nil
}

// Get returns the custom command with id.
func (s *CustomStore) Get(id string) (CustomCommand, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[id]
	if !ok {
		return CustomCommand{}, false
	}
	return cloneCustom(c), true
}

// ByTrigger returns the custom command whose trigger equals trigger,
// ignoring case. Aliases are not considered.
func (s *CustomStore) ByTrigger(trigger string) (CustomCommand, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.sortedLocked() {
		if strings.EqualFold(c.Trigger, trigger) {
			return cloneCustom(c), true
		}
	}
	return CustomCommand{}, false
}

// All returns every custom command ordered by trigger.
func (s *CustomStore) All() []CustomCommand {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.sortedLocked()
	for i := range items {
		items[i] = cloneCustom(items[i])
	}
	return items
}

func (s *CustomStore) sortedLocked() []CustomCommand {
	out := make([]CustomCommand, 0, len(s.items))
	for _, c := range s.items {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Trigger != out[j].Trigger {
			return out[i].Trigger < out[j].Trigger
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IncrementCount bumps the usage counter of id and persists it. Change
// subscribers are not notified. It holds the registry write lock so a
// concurrent delete or edit is never undone by a stale copy.
func (s *CustomStore) IncrementCount(ctx context.Context, id string) error {
	s.reg.writeMu.Lock()
	defer s.reg.writeMu.Unlock()

	s.mu.RLock()
	c, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return errors.WithDetails(ErrUnknownCommand, "id", id)
	}
	updated := cloneCustom(c)
	updated.Count++
	if err := s.store.Save(ctx, updated); err != nil {
		return persistenceError(err, "increment count", id)
	}

	s.mu.Lock()
	s.items[id] = updated
	s.mu.Unlock()
	return nil
}

// ActiveTriggers lists triggers and aliases of active custom commands.
func (s *CustomStore) ActiveTriggers() []TriggerOwner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []TriggerOwner
	for id, c := range s.items {
		if !c.Active {
			continue
		}
		for _, t := range c.Triggers() {
			out = append(out, TriggerOwner{ID: id, Trigger: t})
		}
	}
	return out
}

// TriggerIsTaken reports whether any active system or custom command owns
// trigger.
func (s *CustomStore) TriggerIsTaken(trigger string) bool {
	return s.reg.TriggerIsTaken(trigger)
}

func (s *CustomStore) emit() {
	all := s.All()
	defs := make([]Definition, len(all))
	for i, c := range all {
		defs[i] = c.Definition
	}
	s.notify.emit(ChangeEvent{Kind: CustomCommandsChanged, Commands: defs, CustomCommands: all})
}
