package rules

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TriggerType selects the evaluator and config shape of a rule
type TriggerType string

const (
	TriggerSchedule  TriggerType = "schedule"
	TriggerKeyword   TriggerType = "keyword"
	TriggerCondition TriggerType = "condition"
)

// ActionType selects how an executed rule is rendered for the caller
type ActionType string

const (
	ActionMessage ActionType = "message"
	ActionSummary ActionType = "summary"
	ActionAlert   ActionType = "alert"
	ActionSkill   ActionType = "skill"
)

// Condition checks understood by the engine
const (
	CheckDeadlineWithinDays = "deadline_within_days"
	CheckExpression         = "expression"
)

// DefaultDeadlineDays is used when a deadline condition does not say how far ahead to look
const DefaultDeadlineDays = 3

// Rule is a stored trigger -> action automation.
// Trigger and Action hold the variant matching TriggerType and ActionType.
type Rule struct {
	ID          string
	Name        string
	TriggerType TriggerType
	Trigger     TriggerConfig
	ActionType  ActionType
	Action      ActionConfig
	Enabled     bool
	CreatedAt   time.Time
	LastRun     *time.Time
}

// TriggerConfig is implemented by ScheduleConfig, KeywordConfig and ConditionConfig
type TriggerConfig interface {
	TriggerType() TriggerType
}

// ScheduleConfig is either an interval (hours or minutes) or a cron-like
// descriptor (optional day of week + hour + minute). DayOfWeek is Monday=0 ... Sunday=6.
type ScheduleConfig struct {
	Description     string `json:"description,omitempty"`
	IntervalHours   *int   `json:"interval_hours,omitempty"`
	IntervalMinutes *int   `json:"interval_minutes,omitempty"`
	DayOfWeek       *int   `json:"day_of_week,omitempty"`
	Hour            *int   `json:"hour,omitempty"`
	Minute          *int   `json:"minute,omitempty"`
}

func (*ScheduleConfig) TriggerType() TriggerType { return TriggerSchedule }

// MaxInterval is the longest interval a schedule may repeat at
const MaxInterval = 366 * 24 * time.Hour

// Interval returns the configured interval, hours taking precedence over minutes.
// The bool reports whether an interval is configured at all; a count that is not
// positive or exceeds MaxInterval yields a zero duration.
func (c *ScheduleConfig) Interval() (time.Duration, bool) {
	switch {
	case c.IntervalHours != nil:
		return intervalOf(*c.IntervalHours, time.Hour), true
	case c.IntervalMinutes != nil:
		return intervalOf(*c.IntervalMinutes, time.Minute), true
	}
	return 0, false
}

func intervalOf(n int, unit time.Duration) time.Duration {
	if n <= 0 || int64(n) > int64(MaxInterval/unit) {
		return 0
	}
	return time.Duration(n) * unit
}

// KeywordConfig fires on inbound messages containing any keyword,
// optionally restricted to senders containing From.
type KeywordConfig struct {
	Keywords    []string `json:"keywords"`
	From        string   `json:"from,omitempty"`
	Description string   `json:"description,omitempty"`
}

func (*KeywordConfig) TriggerType() TriggerType { return TriggerKeyword }

// ConditionConfig scans an external record source.
// Days applies to deadline_within_days, Expression to expression checks.
type ConditionConfig struct {
	Check       string `json:"check"`
	Days        int    `json:"days"`
	Source      string `json:"source,omitempty"`
	Expression  string `json:"expression,omitempty"`
	Description string `json:"description,omitempty"`
}

func (*ConditionConfig) TriggerType() TriggerType { return TriggerCondition }

// ActionConfig is the payload consumed when a rule is executed
type ActionConfig interface {
	ActionType() ActionType
}

type MessageAction struct {
	Message string `json:"message,omitempty"`
}

func (*MessageAction) ActionType() ActionType { return ActionMessage }

type SummaryAction struct {
	What string `json:"what,omitempty"`
}

func (*SummaryAction) ActionType() ActionType { return ActionSummary }

type AlertAction struct {
	Message string `json:"message,omitempty"`
}

func (*AlertAction) ActionType() ActionType { return ActionAlert }

type SkillAction struct {
	Skill string         `json:"skill,omitempty"`
	Args  map[string]any `json:"args,omitempty"`
}

func (*SkillAction) ActionType() ActionType { return ActionSkill }

// GenericAction keeps the payload of action types this build does not know,
// so they survive a load/save cycle untouched.
type GenericAction struct {
	Kind   ActionType
	Fields map[string]any
}

func (a *GenericAction) ActionType() ActionType { return a.Kind }

// NewID returns a fresh 12 character hex rule id
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Clone returns a deep copy so callers can't mutate store-owned state
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	c.Trigger = cloneTrigger(r.Trigger)
	c.Action = cloneAction(r.Action)
	if r.LastRun != nil {
		t := *r.LastRun
		c.LastRun = &t
	}
	return &c
}

func cloneTrigger(tc TriggerConfig) TriggerConfig {
	switch v := tc.(type) {
	case *ScheduleConfig:
		c := *v
		c.IntervalHours = cloneInt(v.IntervalHours)
		c.IntervalMinutes = cloneInt(v.IntervalMinutes)
		c.DayOfWeek = cloneInt(v.DayOfWeek)
		c.Hour = cloneInt(v.Hour)
		c.Minute = cloneInt(v.Minute)
		return &c
	case *KeywordConfig:
		c := *v
		if v.Keywords != nil {
			c.Keywords = append(make([]string, 0, len(v.Keywords)), v.Keywords...)
		}
		return &c
	case *ConditionConfig:
		c := *v
		return &c
	}
	return tc
}

func cloneAction(ac ActionConfig) ActionConfig {
	switch v := ac.(type) {
	case *MessageAction:
		c := *v
		return &c
	case *SummaryAction:
		c := *v
		return &c
	case *AlertAction:
		c := *v
		return &c
	case *SkillAction:
		c := *v
		c.Args = cloneMap(v.Args)
		return &c
	case *GenericAction:
		c := *v
		c.Fields = cloneMap(v.Fields)
		return &c
	}
	return ac
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// IntPtr is a convenience for building schedule configs
func IntPtr(v int) *int {
	return &v
}
