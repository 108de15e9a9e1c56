package commands

import (
	"log/slog"
	"sync"
)

// ChangeKind names which command collection changed.
type ChangeKind string

const (
	SystemCommandsChanged ChangeKind = "all-system-commands"
	CustomCommandsChanged ChangeKind = "all-custom-commands"
)

// ChangeEvent is emitted after every mutation of the registry or custom
// store. Commands is a snapshot; receivers may keep it. CustomCommands is
// set for custom store events only.
type ChangeEvent struct {
	Kind           ChangeKind      `json:"kind"`
	Commands       []Definition    `json:"commands"`
	CustomCommands []CustomCommand `json:"customCommands,omitempty"`
}

// notifier fans change events out to subscribers.
type notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(ChangeEvent)
}

func (n *notifier) subscribe(fn func(ChangeEvent)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]func(ChangeEvent))
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

func (n *notifier) emit(evt ChangeEvent) {
	n.mu.Lock()
	subs := make([]func(ChangeEvent), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("change subscriber panicked", slog.Any("panic", r), slog.String("kind", string(evt.Kind)))
				}
			}()
			fn(evt)
		}()
	}
}

func (n *notifier) clear() {
	n.mu.Lock()
	n.subs = nil
	n.mu.Unlock()
}
