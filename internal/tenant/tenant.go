// Package tenant validates tenant identifiers and derives the tenant-scoped
// names used in external systems.
package tenant

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxIDLength is the longest accepted tenant ID.
const MaxIDLength = 64

// ErrInvalidID indicates a malformed tenant ID.
var ErrInvalidID = errors.New("invalid tenant ID")

// idPattern allows UUIDs, slugs and dotted names.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Validate checks a tenant ID taken from a URL or a flag.
func Validate(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidID, MaxIDLength)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q may only contain letters, digits, '.', '_' and '-'", ErrInvalidID, id)
	}
	return nil
}

// SubjectToken maps a tenant ID to a single NATS subject token. Dots and
// wildcards would otherwise split or widen the subject.
func SubjectToken(id string) string {
	if id == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, id)
}

// SyncWorkflowID is the durable workflow ID of a tenant's sync. One ID per
// tenant keeps at most one sync in flight.
func SyncWorkflowID(id string) string {
	return "outcome-sync-" + id
}
