package domain

import "errors"

var (
	ErrGameNotFound   = errors.New("game not found")
	ErrPlayerNotFound = errors.New("player not found")
	ErrCardNotFound   = errors.New("card not found")
	ErrDeckEmpty      = errors.New("deck empty")
	// ErrInvalidState reports a card that exists but is not in the container the action requires.
	ErrInvalidState  = errors.New("card not in required container")
	ErrInvalidAction = errors.New("unrecognized action type")
	// ErrPersistence wraps every storage collaborator failure.
	ErrPersistence = errors.New("persistence failure")
)
