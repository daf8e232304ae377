package service

import (
	"errors"
	"fmt"
	"strings"

	"ragout-bot/internal/entity"
	"ragout-bot/pkg/llm"
)

var (
	ErrIngestFailure = errors.New("document ingest failed")
	ErrSelection     = errors.New("invalid document selection")
	ErrResetFailure  = errors.New("reset could not remove every stored document")
)

// IngestError means a document could not be extracted or indexed. Nothing was
// recorded for the user.
type IngestError struct {
	User entity.UserID
	Name string
	Err  error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %q for %s: %v", e.Name, e.User, e.Err)
}

func (e *IngestError) Unwrap() []error {
	return []error{ErrIngestFailure, e.Err}
}

type SelectionError struct {
	User  entity.UserID
	Index int
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("user %s has no document %d", e.User, e.Index)
}

func (e *SelectionError) Unwrap() error {
	return ErrSelection
}

// ResetError is returned when local state was cleared but some vector keys
// survived. The keys were handed to the cleanup queue.
type ResetError struct {
	User     entity.UserID
	Leftover []string
	Err      error
}

func (e *ResetError) Error() string {
	return fmt.Sprintf("reset %s: %d key(s) left (%s): %v",
		e.User, len(e.Leftover), strings.Join(e.Leftover, ", "), e.Err)
}

func (e *ResetError) Unwrap() []error {
	return []error{ErrResetFailure, e.Err}
}

// RateLimitedError is returned once the retry budget for an exchange is spent.
type RateLimitedError struct {
	Attempts int
	Last     error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("still rate limited after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *RateLimitedError) Unwrap() error {
	return llm.ErrRateLimited
}
