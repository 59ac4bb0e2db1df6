// Package automation ties the compiler, rule store and trigger engine together
// behind the entry points used by the HTTP server and the CLI.
package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/liamcoop/automations/compiler"
	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/rules"
)

// attempts at finding a free id before giving up
const maxIDAttempts = 5

const lastRunLayout = "2006-01-02T15:04"

const emptyListing = "📭 No automations set up yet.\n\n" +
	"Try saying something like:\n" +
	"• \"Every Monday at 9am, send me a weekly summary\"\n" +
	"• \"When I get an email about invoices, alert me\"\n" +
	"• \"Remind me every day at 8am to check email\""

// Firing is the outcome of executing one fired rule during a pass
type Firing struct {
	Rule   *rules.Rule
	Result string
	Err    error
}

// DeliverFunc hands an executed rule's result to the outside world
type DeliverFunc func(ctx context.Context, rule *rules.Rule, result string) error

// Manager owns the store, engine and compiler of one automations instance
type Manager struct {
	store    *rules.Store
	engine   *rules.Engine
	compiler *compiler.Compiler
	loc      *time.Location
	title    cases.Caser
	closer   func() error

	// serialises evaluation passes so overlapping callers cannot double-fire a rule
	passMu sync.Mutex
}

// NewManager creates a manager over an engine and its store.
// A nil location means UTC.
func NewManager(engine *rules.Engine, comp *compiler.Compiler, loc *time.Location) *Manager {
	if comp == nil {
		comp = compiler.New()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Manager{
		store:    engine.Store(),
		engine:   engine,
		compiler: comp,
		loc:      loc,
		title:    cases.Title(language.English),
	}
}

// Engine returns the underlying trigger engine
func (m *Manager) Engine() *rules.Engine {
	return m.engine
}

// Location returns the time zone schedules are evaluated in
func (m *Manager) Location() *time.Location {
	return m.loc
}

// Now returns the engine clock in the evaluation time zone
func (m *Manager) Now() time.Time {
	return m.engine.Now().In(m.loc)
}

// CompileFromText builds a rule from a sentence and stores it.
// Unparseable input returns an error wrapping compiler.ErrUnparseable and stores nothing.
func (m *Manager) CompileFromText(text string) (*rules.Rule, error) {
	rule, err := m.compiler.Compile(text)
	if err != nil {
		return nil, err
	}

	if err := m.addWithFreshID(rule); err != nil {
		return nil, err
	}

	logger.Info("created automation", "rule_id", rule.ID, "trigger", rule.TriggerType, "action", rule.ActionType)
	return rule.Clone(), nil
}

// Create stores a rule given in structured form. An empty id is generated.
func (m *Manager) Create(rule *rules.Rule) (*rules.Rule, error) {
	if rule == nil {
		return nil, fmt.Errorf("%w: rule is nil", rules.ErrInvalidRule)
	}
	rule = rule.Clone()

	generated := rule.ID == ""
	if generated {
		rule.ID = m.compiler.NewID()
	} else if err := ValidateRuleID(rule.ID); err != nil {
		return nil, err
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = m.Now()
	}

	if err := rules.ValidateRule(rule); err != nil {
		return nil, err
	}
	if err := validateLimits(rule); err != nil {
		return nil, err
	}

	cc, isExpression := rule.Trigger.(*rules.ConditionConfig)
	isExpression = isExpression && cc.Check == rules.CheckExpression
	if isExpression {
		if err := m.engine.ValidateExpression(cc.Expression); err != nil {
			return nil, fmt.Errorf("%w: %w", rules.ErrInvalidRule, err)
		}
	}

	if generated {
		err := m.addWithFreshID(rule)
		if err != nil {
			return nil, err
		}
	} else if err := m.store.Add(rule); err != nil {
		return nil, err
	}

	if isExpression {
		if err := m.engine.CompileCondition(rule.ID, cc.Expression); err != nil {
			// validated above; the engine recompiles on first evaluation
			logger.Warn("failed to cache condition program", "rule_id", rule.ID, "error", err)
		}
	}

	logger.Info("created automation", "rule_id", rule.ID, "trigger", rule.TriggerType, "action", rule.ActionType)
	return rule.Clone(), nil
}

func (m *Manager) addWithFreshID(rule *rules.Rule) error {
	var err error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		if attempt > 0 {
			rule.ID = rules.NewID()
		}
		err = m.store.Add(rule)
		if !errors.Is(err, rules.ErrDuplicateRule) {
			return err
		}
	}
	return fmt.Errorf("no free automation id after %d attempts: %w", maxIDAttempts, err)
}

// Get returns a copy of a stored rule
func (m *Manager) Get(id string) (*rules.Rule, error) {
	return m.store.Get(id)
}

// List returns every rule in insertion order
func (m *Manager) List() []*rules.Rule {
	return m.store.List()
}

// FormatList renders the listing shown to users
func (m *Manager) FormatList() string {
	all := m.store.List()
	if len(all) == 0 {
		return emptyListing
	}

	lines := []string{"📋 **Your Automations:**\n"}
	for i, rule := range all {
		status := "✅"
		if !rule.Enabled {
			status = "⏸️"
		}
		last := "Never"
		if rule.LastRun != nil {
			last = rule.LastRun.In(m.loc).Format(lastRunLayout)
		}
		lines = append(lines, fmt.Sprintf(
			"%d. %s **%s**\n   Trigger: %s | Action: %s\n   Last run: %s | ID: `%s`",
			i+1, status, rule.Name,
			m.title.String(string(rule.TriggerType)),
			m.title.String(string(rule.ActionType)),
			last, rule.ID,
		))
	}
	return strings.Join(lines, "\n")
}

// Delete removes a rule. It reports whether the rule existed.
func (m *Manager) Delete(id string) bool {
	if !m.store.Delete(id) {
		return false
	}
	m.engine.ForgetProgram(id)
	logger.Info("deleted automation", "rule_id", id)
	return true
}

// Toggle flips a rule's enabled flag. ok is false when the id is unknown.
func (m *Manager) Toggle(id string) (enabled bool, ok bool) {
	enabled, ok = m.store.Toggle(id)
	if ok {
		logger.Info("toggled automation", "rule_id", id, "enabled", enabled)
	}
	return enabled, ok
}

// CheckTriggers returns the schedule and condition rules due at now
func (m *Manager) CheckTriggers(now time.Time) []*rules.Rule {
	return m.engine.CheckTriggers(now.In(m.loc))
}

// CheckMessage returns the keyword rules matched by an inbound message
func (m *Manager) CheckMessage(text, sender string) []*rules.Rule {
	return m.engine.CheckMessage(text, sender)
}

// Execute renders a rule's action and records last_run at the current time
func (m *Manager) Execute(rule *rules.Rule) string {
	return m.engine.ExecuteAt(rule, m.Now())
}

// RunDue evaluates the time-based rules at now, executes each one that fires
// and hands its result to deliver. A failing or panicking rule is logged and
// does not stop the others.
func (m *Manager) RunDue(ctx context.Context, now time.Time, deliver DeliverFunc) []Firing {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	now = now.In(m.loc)
	return m.runAll(ctx, m.engine.CheckTriggers(now), now, deliver)
}

// HandleMessage runs the keyword rules matched by an inbound message
func (m *Manager) HandleMessage(ctx context.Context, text, sender string, deliver DeliverFunc) []Firing {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	return m.runAll(ctx, m.engine.CheckMessage(text, sender), m.Now(), deliver)
}

func (m *Manager) runAll(ctx context.Context, fired []*rules.Rule, at time.Time, deliver DeliverFunc) []Firing {
	firings := make([]Firing, 0, len(fired))
	for _, rule := range fired {
		firings = append(firings, m.fire(ctx, rule, at, deliver))
	}
	return firings
}

func (m *Manager) fire(ctx context.Context, rule *rules.Rule, at time.Time, deliver DeliverFunc) (f Firing) {
	f.Rule = rule
	defer func() {
		if r := recover(); r != nil {
			f.Err = fmt.Errorf("panic running automation %s: %v", rule.ID, r)
			logger.ErrorDelivery(rule.ID, f.Err)
		}
	}()

	f.Result = m.engine.ExecuteAt(rule, at)
	if deliver == nil {
		return f
	}
	if err := deliver(ctx, rule, f.Result); err != nil {
		f.Err = err
		logger.ErrorDelivery(rule.ID, err)
	}
	return f
}

// Close releases the durable backend's resources
func (m *Manager) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer()
}
