package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrModelTimeout is returned by model scorers that exceed their deadline.
	ErrModelTimeout = errors.New("model scorer timed out")

	// ErrNotFound is returned by repositories for missing records.
	ErrNotFound = errors.New("record not found")

	// ErrSnapshotCorrupted signals a rule snapshot that fails its own invariants.
	ErrSnapshotCorrupted = errors.New("rule snapshot corrupted")
)

// ValidationError reports missing or out-of-range input fields.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Reason, strings.Join(e.Fields, ", "))
}

// StructuralError reports a malformed condition tree. Path locates the node,
// e.g. "conditions.all[1].any[0]".
type StructuralError struct {
	Path   string
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("invalid condition at %s: %s", e.Path, e.Reason)
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Item error codes.
const (
	ItemValidation = "validation"
	ItemDecode     = "decode"
	ItemCancelled  = "cancelled"
	ItemInternal   = "internal"
)

// ItemError is a per-item failure inside a batch.
type ItemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ItemError) Error() string {
	return e.Code + ": " + e.Message
}
