// Package operr defines the engine's error taxonomy (spec.md §7) as
// sentinel values so callers can use errors.Is against a stable kind
// while call sites wrap them with fmt.Errorf("...: %w", ...) for context.
package operr

import "errors"

var (
	ErrNotFound                 = errors.New("not found")
	ErrAlreadyExists            = errors.New("already exists")
	ErrAlreadyPromoted          = errors.New("already promoted")
	ErrInvalidArgument          = errors.New("invalid argument")
	ErrBackingStore             = errors.New("backing store error")
	ErrVersionControl           = errors.New("version control error")
	ErrLanguageModelUnavailable = errors.New("language model unavailable")
	ErrLanguageModelMalformed   = errors.New("language model produced malformed output")
	ErrValidationRisk           = errors.New("validation risk")
	ErrTransport                = errors.New("transport failure")
	ErrInvalidTime               = errors.New("invalid time: clock moved backwards")
)
