// Package compiler turns free-form sentences into automation rules.
package compiler

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/liamcoop/automations/rules"
)

// ErrUnparseable is returned when no rule can be built from the input
var ErrUnparseable = errors.New("could not understand automation")

var withinDaysRe = regexp.MustCompile(`\bwithin\s+(\d+)\s+day`)

// family is one entry of the trigger classification chain: a set of
// predicates over the lowercased input and the parser that builds the trigger.
type family struct {
	trigger  rules.TriggerType
	patterns []*regexp.Regexp
	build    func(c *Compiler, text, lower string) (rules.TriggerConfig, bool)
}

func (f family) matches(lower string) bool {
	for _, re := range f.patterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// Precedence: condition > schedule > keyword
var families = []family{
	{
		trigger: rules.TriggerCondition,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bif\s+.*\b(?:deadline|due|expires?|within)\b`),
			regexp.MustCompile(`\bwhen\s+.*\b(?:deadline|due|expires?|within)\b`),
		},
		build: buildCondition,
	},
	{
		trigger: rules.TriggerSchedule,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bevery\s+(?:day|week|monday|tuesday|wednesday|thursday|friday|saturday|sunday|mon|tue|wed|thu|fri|sat|sun|\d+\s+(?:hour|minute))`),
			regexp.MustCompile(`\bdaily\b`),
			regexp.MustCompile(`\bweekly\b`),
			regexp.MustCompile(`\bremind\s+me\b`),
		},
		build: buildSchedule,
	},
	{
		trigger: rules.TriggerKeyword,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bwhen\s+(?:i\s+)?(?:get|receive)\b`),
			regexp.MustCompile(`\bwhen\s+.*\b(?:email|message|text)\b`),
			regexp.MustCompile(`\b(?:about|containing|mentions?|includes?)\b`),
		},
		build: buildKeyword,
	},
}

// Classify returns the trigger family a sentence belongs to
func Classify(text string) (rules.TriggerType, bool) {
	f := classify(strings.ToLower(strings.TrimSpace(text)))
	if f == nil {
		return "", false
	}
	return f.trigger, true
}

func classify(lower string) *family {
	if lower == "" {
		return nil
	}
	for i := range families {
		if families[i].matches(lower) {
			return &families[i]
		}
	}
	return nil
}

func buildCondition(c *Compiler, text, lower string) (rules.TriggerConfig, bool) {
	days := rules.DefaultDeadlineDays
	if m := withinDaysRe.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			days = n
		}
	}
	return &rules.ConditionConfig{
		Check:       rules.CheckDeadlineWithinDays,
		Days:        days,
		Source:      c.deadlineSource,
		Description: strings.TrimSpace(text),
	}, true
}

func buildSchedule(_ *Compiler, text, _ string) (rules.TriggerConfig, bool) {
	cfg, ok := ParseSchedule(text)
	if !ok {
		return nil, false
	}
	return cfg, true
}

func buildKeyword(_ *Compiler, text, lower string) (rules.TriggerConfig, bool) {
	keywords, _ := ParseKeywords(text)
	sender, _ := ParseSender(text)
	if len(keywords) == 0 && sender == "" {
		keywords = fallbackKeywords(lower)
	}
	if keywords == nil {
		keywords = []string{}
	}
	return &rules.KeywordConfig{
		Keywords:    keywords,
		From:        sender,
		Description: strings.TrimSpace(text),
	}, true
}

// Compiler builds rules from natural-language input
type Compiler struct {
	deadlineSource string
	newID          func() string
	now            func() time.Time
}

// Option configures a Compiler
type Option func(*Compiler)

// WithDeadlineSource sets the record directory stamped on compiled condition rules
func WithDeadlineSource(dir string) Option {
	return func(c *Compiler) {
		c.deadlineSource = dir
	}
}

// WithIDGenerator overrides rule id generation
func WithIDGenerator(newID func() string) Option {
	return func(c *Compiler) {
		c.newID = newID
	}
}

// WithClock overrides the creation timestamp source
func WithClock(now func() time.Time) Option {
	return func(c *Compiler) {
		c.now = now
	}
}

// New creates a Compiler
func New(opts ...Option) *Compiler {
	c := &Compiler{
		newID: rules.NewID,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewID returns a fresh rule id from the configured generator
func (c *Compiler) NewID() string {
	return c.newID()
}

// Compile builds an enabled rule from text. The rule is not stored.
// Every failure wraps ErrUnparseable.
func (c *Compiler) Compile(text string) (*rules.Rule, error) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	if lower == "" {
		return nil, fmt.Errorf("%w: input is empty", ErrUnparseable)
	}

	matched := classify(lower)
	if matched == nil {
		return nil, fmt.Errorf("%w: no schedule, keyword or condition found", ErrUnparseable)
	}

	trigger, ok := matched.build(c, trimmed, lower)
	if !ok {
		return nil, fmt.Errorf("%w: could not read %s from %q", ErrUnparseable, matched.trigger, trimmed)
	}

	actionType, action := DetectAction(trimmed)
	rule := &rules.Rule{
		ID:          c.newID(),
		Name:        truncateRunes(trimmed, rules.MaxNameLength),
		TriggerType: matched.trigger,
		Trigger:     trigger,
		ActionType:  actionType,
		Action:      action,
		Enabled:     true,
		CreatedAt:   c.now(),
	}
	if err := rules.ValidateRule(rule); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}
	return rule, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}
