package ruleset

import (
	"errors"
	"fmt"

	"github.com/tinytelemetry/statwalk/internal/document"
)

// ErrConflictingRule matches every build-time configuration error.
var ErrConflictingRule = errors.New("ruleset: conflicting rule")

// ConflictingRuleError describes a rule declaration that cannot be built.
type ConflictingRuleError struct {
	RuleSet string
	Path    document.Path
	Key     string
	Reason  string
}

func (e *ConflictingRuleError) Error() string {
	where := e.Path.String()
	if where == "" {
		where = "<root>"
	}
	if e.RuleSet != "" {
		where = e.RuleSet + ":" + where
	}
	if e.Key == "" {
		return fmt.Sprintf("ruleset: %s: %s", where, e.Reason)
	}
	return fmt.Sprintf("ruleset: %s: key %q: %s", where, e.Key, e.Reason)
}

// Is lets errors.Is(err, ErrConflictingRule) match.
func (e *ConflictingRuleError) Is(target error) bool {
	return target == ErrConflictingRule
}

func conflict(s *Scope, key, reason string) error {
	return &ConflictingRuleError{Path: s.path, Key: key, Reason: reason}
}
