// Package ident validates SQL identifiers before they are interpolated into
// generated SQL text. It is the single chokepoint that prevents injection via
// table, schema, and column names: every externally supplied identifier must
// pass Validate before any component string-formats it into a query.
package ident

import (
	"fmt"
	"regexp"
)

// MaxLength is the maximum accepted identifier length.
const MaxLength = 128

// pattern matches Postgres-safe unquoted identifiers.
var pattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Error describes a rejected identifier. Context names the role the
// identifier was playing (e.g. "entity_id column") so callers can surface
// actionable messages.
type Error struct {
	Name    string
	Context string
	Reason  string
}

func (e *Error) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("empty %s name", e.Context)
	}
	return fmt.Sprintf("invalid %s name %q: %s", e.Context, e.Name, e.Reason)
}

// Validate checks that name is a safe SQL identifier: non-empty, at most
// MaxLength characters, starting with a letter or underscore and containing
// only letters, digits, and underscores.
func Validate(name, context string) error {
	if context == "" {
		context = "identifier"
	}
	if name == "" {
		return &Error{Name: name, Context: context, Reason: "empty"}
	}
	if len(name) > MaxLength {
		return &Error{Name: name, Context: context, Reason: fmt.Sprintf("too long (max %d chars)", MaxLength)}
	}
	if !pattern.MatchString(name) {
		return &Error{
			Name:    name,
			Context: context,
			Reason:  "must start with letter/underscore and contain only letters, numbers, underscores",
		}
	}
	return nil
}

// ValidateAll validates a set of (name, context) pairs and returns the first
// failure. Convenient for definition constructors that guard several
// identifiers at once.
func ValidateAll(pairs ...[2]string) error {
	for _, p := range pairs {
		if err := Validate(p[0], p[1]); err != nil {
			return err
		}
	}
	return nil
}
