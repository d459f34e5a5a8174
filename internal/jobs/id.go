// Package jobs generates and parses run identifiers.
package jobs

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RunPrefix starts every run ID.
const RunPrefix = "run-"

// NewRunID returns a new random run ID such as "run-4f0c...".
func NewRunID() string {
	return RunPrefix + uuid.NewString()
}

// ParseRunID normalizes a run ID taken from a URL path. The prefix is
// optional on input; the UUID part must be well formed.
func ParseRunID(raw string) (string, error) {
	id := strings.TrimPrefix(strings.TrimSpace(raw), RunPrefix)
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("invalid run ID %q: %w", raw, err)
	}
	return RunPrefix + u.String(), nil
}
