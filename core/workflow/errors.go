package workflow

import (
	"errors"

	"ancla-aem/core/store"
)

var (
	ErrNotFound          = errors.New("workflow: not found")
	ErrInvalidTransition = errors.New("workflow: invalid transition")
	ErrForbidden         = errors.New("workflow: forbidden")
	ErrAlreadyDecided    = errors.New("workflow: request already decided")
	ErrInvalidStatus     = errors.New("workflow: unknown attendance status")
	ErrConflict          = errors.New("workflow: conflict")
)

// mapStoreErr translates store sentinels into the engine's error set so
// handlers never import store error values directly.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrInvalidState):
		return ErrInvalidTransition
	case errors.Is(err, store.ErrAlreadyDecided):
		return ErrAlreadyDecided
	case errors.Is(err, store.ErrConflict):
		return ErrConflict
	default:
		return err
	}
}
