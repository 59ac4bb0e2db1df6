package rules

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/liamcoop/automations/internal/logger"
)

const (
	// Minimum gap between two firings of any schedule rule
	scheduleGuard = 60 * time.Second

	// Minimum gap between two firings of a condition rule
	conditionGuard = time.Hour

	// Half-width, in minutes, of the window around a cron-like target time
	cronWindowMinutes = 5

	// Cost limit applied to every compiled condition expression
	expressionCostLimit = 1000000
)

// Fixed prefixes of rendered action results
const (
	summaryPrefix = "📋 Summary requested: "
	alertPrefix   = "🚨 ALERT: "
	skillPrefix   = "🔧 Running skill: "
	firedPrefix   = "Automation fired: "

	defaultSummaryWhat = "recent activity"
	defaultSkillName   = "unknown"
)

type compiledExpression struct {
	source  string
	program cel.Program
}

// Engine decides which rules fire for a point in time or an inbound message,
// and records executions. It owns no goroutines or timers: callers drive it.
type Engine struct {
	env      *cel.Env
	store    *Store
	records  RecordSource
	programs map[string]compiledExpression // ruleID -> compiled expression condition
	now      func() time.Time
	mu       sync.RWMutex
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source used by Execute
func WithClock(now func() time.Time) Option {
	return func(en *Engine) {
		en.now = now
	}
}

// WithRecordSource sets where condition rules read their records from
func WithRecordSource(src RecordSource) Option {
	return func(en *Engine) {
		en.records = src
	}
}

// NewEngine creates an engine with the default CEL environment for
// expression conditions: `record` (one source record) and `now`.
func NewEngine(store *Store, opts ...Option) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("record", cel.DynType),
		cel.Variable("now", cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return NewEngineWithEnv(env, store, opts...)
}

// NewEngineWithEnv creates an engine with a custom CEL environment
func NewEngineWithEnv(env *cel.Env, store *Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine needs a store")
	}
	en := &Engine{
		env:      env,
		store:    store,
		records:  NewDirectorySource(DefaultScanLimits()),
		programs: make(map[string]compiledExpression),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(en)
	}

	en.CompileAllConditions()
	return en, nil
}

// Store returns the rule store the engine evaluates
func (en *Engine) Store() *Store {
	return en.store
}

// Now returns the engine clock's current time
func (en *Engine) Now() time.Time {
	return en.now()
}

// CompileCondition compiles a condition expression and caches the program for ruleID
func (en *Engine) CompileCondition(ruleID, expression string) error {
	prog, err := en.compile(expression)
	if err != nil {
		return err
	}

	en.mu.Lock()
	en.programs[ruleID] = compiledExpression{source: expression, program: prog}
	en.mu.Unlock()

	return nil
}

// ValidateExpression compiles an expression without caching it
func (en *Engine) ValidateExpression(expression string) error {
	_, err := en.compile(expression)
	return err
}

func (en *Engine) compile(expression string) (cel.Program, error) {
	ast, issues := en.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	// non-bool results are treated as no match at evaluation time
	prog, err := en.env.Program(ast, cel.CostLimit(expressionCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prog, nil
}

// ForgetProgram drops the cached program of a deleted rule
func (en *Engine) ForgetProgram(ruleID string) {
	en.mu.Lock()
	delete(en.programs, ruleID)
	en.mu.Unlock()
}

// CompileAllConditions compiles every stored expression condition.
// A rule that fails to compile is logged and will never fire.
func (en *Engine) CompileAllConditions() {
	for _, r := range en.store.List() {
		cc, ok := r.Trigger.(*ConditionConfig)
		if !ok || cc.Check != CheckExpression {
			continue
		}
		if err := en.CompileCondition(r.ID, cc.Expression); err != nil {
			logger.Warn("failed to compile condition expression", "rule_id", r.ID, "error", err)
		}
	}
}

// CheckSchedule reports whether a schedule rule is due at now
func (en *Engine) CheckSchedule(rule *Rule, now time.Time) bool {
	sc, ok := rule.Trigger.(*ScheduleConfig)
	if !ok {
		return false
	}
	if rule.LastRun != nil && now.Sub(*rule.LastRun) < scheduleGuard {
		return false
	}

	if interval, ok := sc.Interval(); ok {
		if interval <= 0 {
			return false
		}
		if rule.LastRun == nil {
			return true
		}
		return now.Sub(*rule.LastRun) >= interval
	}

	if sc.Hour == nil {
		return false
	}
	if sc.DayOfWeek != nil && MondayWeekday(now) != *sc.DayOfWeek {
		return false
	}

	minute := 0
	if sc.Minute != nil {
		minute = *sc.Minute
	}
	target := *sc.Hour*60 + minute
	current := now.Hour()*60 + now.Minute()
	if absInt(current-target) > cronWindowMinutes {
		return false
	}

	// already fired inside this window today
	if rule.LastRun != nil {
		last := rule.LastRun.In(now.Location())
		if sameDate(last, now) && absInt(last.Hour()*60+last.Minute()-target) <= cronWindowMinutes {
			return false
		}
	}
	return true
}

// CheckCondition reports whether a condition rule's check holds at now
func (en *Engine) CheckCondition(rule *Rule, now time.Time) bool {
	cc, ok := rule.Trigger.(*ConditionConfig)
	if !ok {
		return false
	}
	if rule.LastRun != nil && now.Sub(*rule.LastRun) < conditionGuard {
		return false
	}

	switch cc.Check {
	case CheckDeadlineWithinDays:
		return ScanForDeadlineWithin(en.records, cc.Source, cc.Days, now)
	case CheckExpression:
		return en.evalExpression(rule.ID, cc, now)
	default:
		logger.Debug("unknown condition check", "rule_id", rule.ID, "check", cc.Check)
		return false
	}
}

func (en *Engine) evalExpression(ruleID string, cc *ConditionConfig, now time.Time) bool {
	en.mu.RLock()
	compiled, exists := en.programs[ruleID]
	en.mu.RUnlock()

	if !exists || compiled.source != cc.Expression {
		if err := en.CompileCondition(ruleID, cc.Expression); err != nil {
			logger.Warn("failed to compile condition expression", "rule_id", ruleID, "error", err)
			return false
		}
		en.mu.RLock()
		compiled = en.programs[ruleID]
		en.mu.RUnlock()
	}

	if en.records == nil || strings.TrimSpace(cc.Source) == "" {
		return false
	}
	records, err := en.records.Records(cc.Source)
	if err != nil {
		logger.Debug("condition source unavailable", "rule_id", ruleID, "source", cc.Source, "error", err)
		return false
	}

	for _, rec := range records {
		out, _, err := compiled.program.Eval(map[string]any{
			"record": map[string]any(rec),
			"now":    now,
		})
		if err != nil {
			// missing fields in one record shouldn't stop the scan
			logger.Trace("condition expression failed on record", "rule_id", ruleID, "error", err)
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return true
		}
	}
	return false
}

// CheckTriggers returns the enabled schedule and condition rules that fire at now.
// Keyword rules are never considered here.
func (en *Engine) CheckTriggers(now time.Time) []*Rule {
	var fired []*Rule
	for _, rule := range en.store.ListEnabled() {
		var due bool
		switch rule.TriggerType {
		case TriggerSchedule:
			due = en.CheckSchedule(rule, now)
		case TriggerCondition:
			due = en.CheckCondition(rule, now)
		}
		if due {
			fired = append(fired, rule)
		}
	}
	logger.RulesFired.Add(int64(len(fired)))
	return fired
}

// CheckMessage returns the enabled keyword rules matched by an inbound message.
// An empty sender means none was supplied.
func (en *Engine) CheckMessage(message, sender string) []*Rule {
	lowerMsg := strings.ToLower(message)
	lowerSender := strings.ToLower(sender)

	var fired []*Rule
	for _, rule := range en.store.ListEnabled() {
		kc, ok := rule.Trigger.(*KeywordConfig)
		if !ok {
			continue
		}
		if kc.From != "" {
			if sender == "" || !strings.Contains(lowerSender, strings.ToLower(kc.From)) {
				continue
			}
		}
		if matchesAnyKeyword(lowerMsg, kc.Keywords) {
			fired = append(fired, rule)
		}
	}
	logger.RulesFired.Add(int64(len(fired)))
	return fired
}

func matchesAnyKeyword(lowerMsg string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowerMsg, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Execute renders the rule's action and records the execution at the engine clock's time
func (en *Engine) Execute(rule *Rule) string {
	return en.ExecuteAt(rule, en.now())
}

// ExecuteAt renders the rule's action and records last_run = at.
// A rule deleted since it fired still renders; its last_run is not recorded.
func (en *Engine) ExecuteAt(rule *Rule, at time.Time) string {
	result := Render(rule)

	if updated, err := en.store.MarkRun(rule.ID, at); err != nil {
		logger.Warn("executed automation is no longer stored", "rule_id", rule.ID, "error", err)
	} else {
		rule.LastRun = updated.LastRun
	}

	logger.RulesExecuted.Add(1)
	logger.Info("executed automation", "rule_id", rule.ID, "name", rule.Name, "action", rule.ActionType)
	return result
}

// Render maps a rule's action to the text handed to the caller
func Render(rule *Rule) string {
	switch a := rule.Action.(type) {
	case *MessageAction:
		if a.Message != "" {
			return a.Message
		}
		return rule.Name
	case *SummaryAction:
		what := a.What
		if what == "" {
			what = defaultSummaryWhat
		}
		return summaryPrefix + what
	case *AlertAction:
		msg := a.Message
		if msg == "" {
			msg = rule.Name
		}
		return alertPrefix + msg
	case *SkillAction:
		skill := a.Skill
		if skill == "" {
			skill = defaultSkillName
		}
		return skillPrefix + skill
	}

	// no payload stored for a known type falls back to its defaults
	switch rule.ActionType {
	case ActionMessage:
		return rule.Name
	case ActionSummary:
		return summaryPrefix + defaultSummaryWhat
	case ActionAlert:
		return alertPrefix + rule.Name
	case ActionSkill:
		return skillPrefix + defaultSkillName
	}
	return firedPrefix + rule.Name
}

// MondayWeekday returns the day of week with Monday=0 ... Sunday=6
func MondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
