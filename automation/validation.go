package automation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/liamcoop/automations/rules"
)

// Limits on rules created in structured form
const (
	maxIDLength      = 64
	maxKeywords      = 50
	maxKeywordLength = 200
	maxExpression    = 4096
)

// rule ids name files in the directory backend, so path separators and dots are out
var validRuleID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidateRuleID checks an externally supplied rule id
func ValidateRuleID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("%w: id cannot be empty", rules.ErrInvalidRule)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id length %d exceeds maximum of %d characters", rules.ErrInvalidRule, len(id), maxIDLength)
	}
	if !validRuleID.MatchString(id) {
		return fmt.Errorf("%w: id %q must match %s", rules.ErrInvalidRule, id, validRuleID.String())
	}
	return nil
}

// validateLimits applies the size limits ValidateRule does not know about
func validateLimits(rule *rules.Rule) error {
	switch tc := rule.Trigger.(type) {
	case *rules.KeywordConfig:
		if len(tc.Keywords) > maxKeywords {
			return fmt.Errorf("%w: %d keywords, maximum allowed is %d", rules.ErrInvalidRule, len(tc.Keywords), maxKeywords)
		}
		for _, kw := range tc.Keywords {
			if len(kw) > maxKeywordLength {
				return fmt.Errorf("%w: keyword %q exceeds %d characters", rules.ErrInvalidRule, truncate(kw, 20), maxKeywordLength)
			}
		}
	case *rules.ConditionConfig:
		if len(tc.Expression) > maxExpression {
			return fmt.Errorf("%w: expression exceeds %d characters", rules.ErrInvalidRule, maxExpression)
		}
		if tc.Check == rules.CheckDeadlineWithinDays && strings.TrimSpace(tc.Source) == "" {
			return fmt.Errorf("%w: deadline condition needs a source directory", rules.ErrInvalidRule)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
