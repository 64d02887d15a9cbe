// Package query turns validated filters into parameterized SQL over the
// recorded call log and exposes rehydrated views of calls, sessions,
// object histories, and snapshot chains.
package query

import (
	"fmt"
	"strings"
)

// Filter selects a subset of recorded calls. Zero-value fields do not
// constrain the result; the zero Filter matches every call.
type Filter struct {
	// Function matches the fully qualified function name exactly.
	Function string
	// File matches the defining file path exactly.
	File string
	// Search is a case-insensitive substring match over function name
	// and file path.
	Search string
	// SessionID restricts to one recording session.
	SessionID string
	// Limit caps the number of rows returned; 0 means unlimited.
	Limit int
}

// Validate checks filter fields before compilation.
func (f Filter) Validate() error {
	if f.Limit < 0 {
		return fmt.Errorf("filter: negative limit %d", f.Limit)
	}
	if strings.ContainsAny(f.Search, "%_") {
		return fmt.Errorf("filter: search must not contain LIKE metacharacters")
	}
	return nil
}

// Compile converts the filter to a WHERE fragment with ? placeholders.
// Values are never interpolated. An unconstrained filter compiles to an
// empty fragment.
func (f Filter) Compile() (where string, args []any) {
	var parts []string

	if f.Function != "" {
		parts = append(parts, "function = ?")
		args = append(args, f.Function)
	}
	if f.File != "" {
		parts = append(parts, "file = ?")
		args = append(args, f.File)
	}
	if f.SessionID != "" {
		parts = append(parts, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Search != "" {
		parts = append(parts, "(function LIKE ? OR file LIKE ?)")
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}

	return strings.Join(parts, " AND "), args
}
