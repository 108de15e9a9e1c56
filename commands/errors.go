package commands

import (
	"fmt"

	"emperror.dev/errors"
)

var (
	// ErrUnknownCommand is returned when an id does not name a known command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrValidation is returned when a definition misses required fields.
	ErrValidation = errors.New("invalid command definition")
	// ErrTriggerConflict is returned when a save would give two active commands the same trigger.
	ErrTriggerConflict = errors.New("trigger already in use")
	// ErrHandlerFailure wraps errors and panics raised by a command handler.
	ErrHandlerFailure = errors.New("command handler failed")
	// ErrPersistence wraps store read and write failures.
	ErrPersistence = errors.New("command store failure")
	// ErrNotInitialized is returned when the registry is used before Init.
	ErrNotInitialized = errors.New("command registry not initialized")
)

func persistenceError(err error, op, id string) error {
	return errors.WithDetails(fmt.Errorf("%w: %s: %w", ErrPersistence, op, err), "id", id)
}
