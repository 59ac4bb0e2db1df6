package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrInvalidRule wraps every validation failure
var ErrInvalidRule = errors.New("invalid rule")

// MaxNameLength caps rule names derived from user input
const MaxNameLength = 80

// ValidateRule checks that a rule carries the fields its trigger and action types need.
// A keyword rule with neither keywords nor sender is allowed: it is stored but never fires.
func ValidateRule(r *Rule) error {
	if r == nil {
		return fmt.Errorf("%w: rule is nil", ErrInvalidRule)
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidRule)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidRule)
	}
	if utf8.RuneCountInString(r.Name) > MaxNameLength {
		return fmt.Errorf("%w: name length %d exceeds maximum of %d characters", ErrInvalidRule, utf8.RuneCountInString(r.Name), MaxNameLength)
	}

	if r.Trigger == nil {
		return fmt.Errorf("%w: %s rule has no trigger_config", ErrInvalidRule, r.TriggerType)
	}
	if r.Trigger.TriggerType() != r.TriggerType {
		return fmt.Errorf("%w: trigger_type %q does not match %s config", ErrInvalidRule, r.TriggerType, r.Trigger.TriggerType())
	}

	var err error
	switch tc := r.Trigger.(type) {
	case *ScheduleConfig:
		err = validateSchedule(tc)
	case *KeywordConfig:
		err = validateKeyword(tc)
	case *ConditionConfig:
		err = validateCondition(tc)
	default:
		err = fmt.Errorf("unsupported trigger_type %q", r.TriggerType)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	if r.ActionType == "" {
		return fmt.Errorf("%w: action_type cannot be empty", ErrInvalidRule)
	}
	if r.Action != nil && r.Action.ActionType() != r.ActionType {
		return fmt.Errorf("%w: action_type %q does not match %s config", ErrInvalidRule, r.ActionType, r.Action.ActionType())
	}
	return nil
}

func validateSchedule(c *ScheduleConfig) error {
	if c.IntervalHours != nil || c.IntervalMinutes != nil {
		if c.IntervalHours != nil {
			if err := checkInterval("interval_hours", *c.IntervalHours, time.Hour); err != nil {
				return err
			}
		}
		if c.IntervalMinutes != nil {
			if err := checkInterval("interval_minutes", *c.IntervalMinutes, time.Minute); err != nil {
				return err
			}
		}
		return nil
	}

	if c.Hour == nil {
		return fmt.Errorf("schedule needs interval_hours, interval_minutes or hour")
	}
	if *c.Hour < 0 || *c.Hour > 23 {
		return fmt.Errorf("hour %d out of range 0-23", *c.Hour)
	}
	if c.Minute != nil && (*c.Minute < 0 || *c.Minute > 59) {
		return fmt.Errorf("minute %d out of range 0-59", *c.Minute)
	}
	if c.DayOfWeek != nil && (*c.DayOfWeek < 0 || *c.DayOfWeek > 6) {
		return fmt.Errorf("day_of_week %d out of range 0-6 (Monday=0)", *c.DayOfWeek)
	}
	return nil
}

func checkInterval(field string, n int, unit time.Duration) error {
	if n <= 0 {
		return fmt.Errorf("%s must be positive, got %d", field, n)
	}
	if limit := int64(MaxInterval / unit); int64(n) > limit {
		return fmt.Errorf("%s %d exceeds the maximum of %d", field, n, limit)
	}
	return nil
}

func validateKeyword(c *KeywordConfig) error {
	for i, kw := range c.Keywords {
		if strings.TrimSpace(kw) == "" {
			return fmt.Errorf("keyword %d is empty", i)
		}
	}
	return nil
}

func validateCondition(c *ConditionConfig) error {
	switch c.Check {
	case "":
		return fmt.Errorf("condition needs a check")
	case CheckDeadlineWithinDays:
		if c.Days < 0 {
			return fmt.Errorf("days must not be negative, got %d", c.Days)
		}
	case CheckExpression:
		if strings.TrimSpace(c.Expression) == "" {
			return fmt.Errorf("expression check needs an expression")
		}
	}
	// unknown checks are stored; the engine never fires them
	return nil
}
