package automation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/liamcoop/automations/compiler"
	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/rules"
)

// 2024-01-01 is a Monday
var monday9 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	manager *Manager
	records *rules.MemorySource
	clock   *time.Time
}

func newTestEnv(t *testing.T, opts ...compiler.Option) *testEnv {
	t.Helper()

	now := monday9
	env := &testEnv{records: rules.NewMemorySource(), clock: &now}
	clock := func() time.Time { return *env.clock }

	store := rules.NewStore(rules.NewMemoryBackend(), nil)
	engine, err := rules.NewEngine(store, rules.WithClock(clock), rules.WithRecordSource(env.records))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	comp := compiler.New(append([]compiler.Option{compiler.WithClock(clock)}, opts...)...)
	env.manager = NewManager(engine, comp, time.UTC)
	return env
}

func intervalRule(id string, minutes int) *rules.Rule {
	return &rules.Rule{
		ID:          id,
		Name:        "every " + id,
		TriggerType: rules.TriggerSchedule,
		Trigger:     &rules.ScheduleConfig{IntervalMinutes: rules.IntPtr(minutes)},
		ActionType:  rules.ActionMessage,
		Action:      &rules.MessageAction{Message: "ping " + id},
		Enabled:     true,
	}
}

func mustCreate(t *testing.T, m *Manager, rule *rules.Rule) *rules.Rule {
	t.Helper()
	created, err := m.Create(rule)
	if err != nil {
		t.Fatalf("Create(%s) failed: %v", rule.ID, err)
	}
	return created
}

// TestCompileFromTextStoresRule verifies a compiled sentence is stored and listed
func TestCompileFromTextStoresRule(t *testing.T) {
	env := newTestEnv(t)
	m := env.manager

	rule, err := m.CompileFromText("Every Monday at 9am, send me a weekly summary")
	if err != nil {
		t.Fatalf("CompileFromText failed: %v", err)
	}

	got, err := m.Get(rule.ID)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", rule.ID, err)
	}
	if got.TriggerType != rules.TriggerSchedule || got.ActionType != rules.ActionSummary {
		t.Errorf("Expected schedule/summary rule, got %s/%s", got.TriggerType, got.ActionType)
	}
	if !got.CreatedAt.Equal(monday9) {
		t.Errorf("Expected created_at %v, got %v", monday9, got.CreatedAt)
	}
	if n := len(m.List()); n != 1 {
		t.Errorf("Expected 1 rule, got %d", n)
	}
}

// TestCompileFromTextUnparseable verifies nothing is stored for unparseable input
func TestCompileFromTextUnparseable(t *testing.T) {
	m := newTestEnv(t).manager

	rule, err := m.CompileFromText("hello world")
	if !errors.Is(err, compiler.ErrUnparseable) {
		t.Fatalf("Expected ErrUnparseable, got %v", err)
	}
	if rule != nil {
		t.Errorf("Expected no rule, got %+v", rule)
	}
	if n := len(m.List()); n != 0 {
		t.Errorf("Expected empty store, got %d rules", n)
	}
}

// TestCompileFromTextRegeneratesDuplicateID verifies an id collision picks a new id
func TestCompileFromTextRegeneratesDuplicateID(t *testing.T) {
	m := newTestEnv(t, compiler.WithIDGenerator(func() string { return "aaaaaaaaaaaa" })).manager

	first, err := m.CompileFromText("every 5 minutes")
	if err != nil {
		t.Fatalf("First compile failed: %v", err)
	}
	second, err := m.CompileFromText("every 10 minutes")
	if err != nil {
		t.Fatalf("Second compile failed: %v", err)
	}

	if first.ID != "aaaaaaaaaaaa" {
		t.Errorf("Expected generated id, got %s", first.ID)
	}
	if second.ID == first.ID {
		t.Errorf("Expected a fresh id for the second rule, both are %s", first.ID)
	}
	if n := len(m.List()); n != 2 {
		t.Errorf("Expected 2 rules, got %d", n)
	}
}

// TestCreateRejectsInvalidRules verifies structured creation validates before storing
func TestCreateRejectsInvalidRules(t *testing.T) {
	badHour := intervalRule("badhour", 5)
	badHour.Trigger = &rules.ScheduleConfig{Hour: rules.IntPtr(25)}

	badExpr := &rules.Rule{
		ID:          "badexpr",
		Name:        "broken expression",
		TriggerType: rules.TriggerCondition,
		Trigger:     &rules.ConditionConfig{Check: rules.CheckExpression, Expression: "record.status ==", Source: "cases"},
		ActionType:  rules.ActionAlert,
	}

	noSource := &rules.Rule{
		ID:          "nosource",
		Name:        "deadline without a source",
		TriggerType: rules.TriggerCondition,
		Trigger:     &rules.ConditionConfig{Check: rules.CheckDeadlineWithinDays, Days: 3},
		ActionType:  rules.ActionAlert,
	}

	tooMany := &rules.Rule{
		ID:          "toomany",
		Name:        "too many keywords",
		TriggerType: rules.TriggerKeyword,
		Trigger:     &rules.KeywordConfig{Keywords: make([]string, maxKeywords+1)},
		ActionType:  rules.ActionAlert,
	}
	for i := range tooMany.Trigger.(*rules.KeywordConfig).Keywords {
		tooMany.Trigger.(*rules.KeywordConfig).Keywords[i] = "kw"
	}

	tests := []struct {
		name string
		rule *rules.Rule
	}{
		{"path in id", intervalRule("../etc", 5)},
		{"hour out of range", badHour},
		{"expression does not compile", badExpr},
		{"deadline without source", noSource},
		{"too many keywords", tooMany},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestEnv(t).manager
			_, err := m.Create(tt.rule)
			if !errors.Is(err, rules.ErrInvalidRule) {
				t.Fatalf("Expected ErrInvalidRule, got %v", err)
			}
			if n := len(m.List()); n != 0 {
				t.Errorf("Expected nothing stored, got %d rules", n)
			}
		})
	}
}

// TestCreateDuplicateID verifies an explicit id is never silently replaced
func TestCreateDuplicateID(t *testing.T) {
	m := newTestEnv(t).manager
	mustCreate(t, m, intervalRule("same", 5))

	_, err := m.Create(intervalRule("same", 10))
	if !errors.Is(err, rules.ErrDuplicateRule) {
		t.Fatalf("Expected ErrDuplicateRule, got %v", err)
	}
}

// TestCreateGeneratesID verifies an empty id is filled in
func TestCreateGeneratesID(t *testing.T) {
	m := newTestEnv(t).manager

	created := mustCreate(t, m, intervalRule("", 5))
	if len(created.ID) != 12 {
		t.Errorf("Expected a 12 character id, got %q", created.ID)
	}
}

// TestCreateGeneratedIDRegeneratesOnCollision verifies a generated id that is
// already taken is replaced instead of failing the create
func TestCreateGeneratedIDRegeneratesOnCollision(t *testing.T) {
	m := newTestEnv(t, compiler.WithIDGenerator(func() string { return "aaaaaaaaaaaa" })).manager
	mustCreate(t, m, intervalRule("aaaaaaaaaaaa", 5))

	created := mustCreate(t, m, intervalRule("", 10))
	if created.ID == "aaaaaaaaaaaa" {
		t.Fatal("Expected a fresh id after the collision")
	}
	if len(created.ID) != 12 {
		t.Errorf("Expected a 12 character id, got %q", created.ID)
	}
	if n := len(m.List()); n != 2 {
		t.Errorf("Expected 2 rules, got %d", n)
	}
}

// TestExpressionConditionFires verifies a CEL condition fires through a pass
func TestExpressionConditionFires(t *testing.T) {
	env := newTestEnv(t)
	m := env.manager
	env.records.Set("cases",
		rules.DataRecord{"status": "open"},
		rules.DataRecord{"status": "overdue"},
	)

	mustCreate(t, m, &rules.Rule{
		ID:          "overdue",
		Name:        "overdue cases",
		TriggerType: rules.TriggerCondition,
		Trigger:     &rules.ConditionConfig{Check: rules.CheckExpression, Expression: `record.status == "overdue"`, Source: "cases"},
		ActionType:  rules.ActionAlert,
		Action:      &rules.AlertAction{Message: "a case is overdue"},
		Enabled:     true,
	})

	firings := m.RunDue(context.Background(), monday9, nil)
	if len(firings) != 1 {
		t.Fatalf("Expected 1 firing, got %d", len(firings))
	}
	if want := "🚨 ALERT: a case is overdue"; firings[0].Result != want {
		t.Errorf("Expected %q, got %q", want, firings[0].Result)
	}

	// hour guard
	if again := m.RunDue(context.Background(), monday9.Add(30*time.Minute), nil); len(again) != 0 {
		t.Errorf("Expected no firing within the hour, got %d", len(again))
	}
}

// TestDeleteAndToggle verifies the management entry points
func TestDeleteAndToggle(t *testing.T) {
	m := newTestEnv(t).manager
	mustCreate(t, m, intervalRule("r1", 5))

	enabled, ok := m.Toggle("r1")
	if !ok || enabled {
		t.Errorf("Expected toggle to disable, got enabled=%v ok=%v", enabled, ok)
	}
	if _, ok := m.Toggle("missing"); ok {
		t.Error("Expected toggle of unknown id to report not found")
	}
	if fired := m.CheckTriggers(monday9); len(fired) != 0 {
		t.Errorf("Disabled rule fired: %d", len(fired))
	}

	if !m.Delete("r1") {
		t.Error("Expected delete to report the rule existed")
	}
	if m.Delete("r1") {
		t.Error("Expected second delete to report not found")
	}
	if _, err := m.Get("r1"); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Expected ErrRuleNotFound after delete, got %v", err)
	}
}

// TestRunDueExecutesAndDelivers verifies results are delivered and last_run recorded
func TestRunDueExecutesAndDelivers(t *testing.T) {
	m := newTestEnv(t).manager
	mustCreate(t, m, intervalRule("r1", 30))

	var delivered []string
	deliver := func(_ context.Context, rule *rules.Rule, result string) error {
		delivered = append(delivered, rule.ID+":"+result)
		return nil
	}

	firings := m.RunDue(context.Background(), monday9, deliver)
	if len(firings) != 1 || firings[0].Err != nil {
		t.Fatalf("Expected one clean firing, got %+v", firings)
	}
	if len(delivered) != 1 || delivered[0] != "r1:ping r1" {
		t.Errorf("Unexpected deliveries: %v", delivered)
	}

	got, _ := m.Get("r1")
	if got.LastRun == nil || !got.LastRun.Equal(monday9) {
		t.Errorf("Expected last_run %v, got %v", monday9, got.LastRun)
	}

	if again := m.RunDue(context.Background(), monday9.Add(10*time.Minute), deliver); len(again) != 0 {
		t.Errorf("Expected no firing before the interval elapsed, got %d", len(again))
	}
	if again := m.RunDue(context.Background(), monday9.Add(30*time.Minute), deliver); len(again) != 1 {
		t.Errorf("Expected a firing once the interval elapsed, got %d", len(again))
	}
}

// TestRunDueIsolatesFailures verifies one failing rule does not block the others
func TestRunDueIsolatesFailures(t *testing.T) {
	m := newTestEnv(t).manager
	mustCreate(t, m, intervalRule("panics", 5))
	mustCreate(t, m, intervalRule("fails", 5))
	mustCreate(t, m, intervalRule("works", 5))

	before := logger.DeliveryFailures.Load()
	deliver := func(_ context.Context, rule *rules.Rule, _ string) error {
		switch rule.ID {
		case "panics":
			panic("boom")
		case "fails":
			return errors.New("gateway down")
		}
		return nil
	}

	firings := m.RunDue(context.Background(), monday9, deliver)
	if len(firings) != 3 {
		t.Fatalf("Expected 3 firings, got %d", len(firings))
	}

	errs := map[string]error{}
	for _, f := range firings {
		errs[f.Rule.ID] = f.Err
		got, _ := m.Get(f.Rule.ID)
		if got.LastRun == nil {
			t.Errorf("Expected last_run recorded for %s", f.Rule.ID)
		}
	}
	if errs["panics"] == nil || !strings.Contains(errs["panics"].Error(), "boom") {
		t.Errorf("Expected recovered panic for 'panics', got %v", errs["panics"])
	}
	if errs["fails"] == nil {
		t.Error("Expected delivery error for 'fails'")
	}
	if errs["works"] != nil {
		t.Errorf("Expected no error for 'works', got %v", errs["works"])
	}
	if diff := logger.DeliveryFailures.Load() - before; diff != 2 {
		t.Errorf("Expected 2 delivery failures counted, got %d", diff)
	}
}

// TestRunDueConcurrentPassesFireOnce verifies overlapping passes cannot double-fire
func TestRunDueConcurrentPassesFireOnce(t *testing.T) {
	m := newTestEnv(t).manager
	mustCreate(t, m, intervalRule("once", 60))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := len(m.RunDue(context.Background(), monday9, nil))
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 1 {
		t.Errorf("Expected exactly 1 firing across concurrent passes, got %d", total)
	}
}

// TestHandleMessage verifies keyword rules run on inbound messages only
func TestHandleMessage(t *testing.T) {
	env := newTestEnv(t)
	m := env.manager

	rule, err := m.CompileFromText("When I get an email from boss@corp.com about the merger, alert me")
	if err != nil {
		t.Fatalf("CompileFromText failed: %v", err)
	}

	if firings := m.RunDue(context.Background(), monday9, nil); len(firings) != 0 {
		t.Errorf("Keyword rule fired on a tick: %d", len(firings))
	}
	if firings := m.HandleMessage(context.Background(), "News on the merger", "", nil); len(firings) != 0 {
		t.Errorf("Expected no firing without a sender, got %d", len(firings))
	}

	firings := m.HandleMessage(context.Background(), "News on THE MERGER", "Boss@Corp.com", nil)
	if len(firings) != 1 || firings[0].Rule.ID != rule.ID {
		t.Fatalf("Expected rule %s to fire, got %+v", rule.ID, firings)
	}
	if !strings.HasPrefix(firings[0].Result, "🚨 ALERT: ") {
		t.Errorf("Expected alert result, got %q", firings[0].Result)
	}
}

// TestFormatListEmpty verifies the empty-state help text
func TestFormatListEmpty(t *testing.T) {
	got := newTestEnv(t).manager.FormatList()
	if got != emptyListing {
		t.Errorf("Unexpected empty listing:\n%s", got)
	}
	if !strings.Contains(got, "Remind me every day at 8am to check email") {
		t.Error("Expected example sentences in the empty listing")
	}
}

// TestFormatListGolden verifies the rendered listing
func TestFormatListGolden(t *testing.T) {
	m := newTestEnv(t).manager

	lastRun := monday9.Add(2 * time.Minute)
	mustCreate(t, m, &rules.Rule{
		ID:          "weekly01",
		Name:        "Every Monday at 9am, send me a weekly summary",
		TriggerType: rules.TriggerSchedule,
		Trigger:     &rules.ScheduleConfig{DayOfWeek: rules.IntPtr(0), Hour: rules.IntPtr(9), Minute: rules.IntPtr(0)},
		ActionType:  rules.ActionSummary,
		Action:      &rules.SummaryAction{What: "Every Monday at 9am, send me a weekly summary"},
		Enabled:     true,
		LastRun:     &lastRun,
	})
	mustCreate(t, m, &rules.Rule{
		ID:          "invoice02",
		Name:        "When I get an email about invoices, alert me",
		TriggerType: rules.TriggerKeyword,
		Trigger:     &rules.KeywordConfig{Keywords: []string{"invoices"}},
		ActionType:  rules.ActionAlert,
		Enabled:     true,
	})
	mustCreate(t, m, &rules.Rule{
		ID:          "deadline03",
		Name:        "If my case deadline is within 3 days, remind me",
		TriggerType: rules.TriggerCondition,
		Trigger:     &rules.ConditionConfig{Check: rules.CheckDeadlineWithinDays, Days: 3, Source: "~/cases"},
		ActionType:  rules.ActionMessage,
		Enabled:     true,
	})
	m.Toggle("invoice02")

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, "format_list", []byte(m.FormatList()))
}

// TestFormatListUsesLocation verifies last run is shown in the evaluation time zone
func TestFormatListUsesLocation(t *testing.T) {
	env := newTestEnv(t)
	m := NewManager(env.manager.Engine(), nil, time.FixedZone("UTC+2", 2*3600))

	rule := intervalRule("r1", 5)
	last := monday9
	rule.LastRun = &last
	mustCreate(t, m, rule)

	if got := m.FormatList(); !strings.Contains(got, "Last run: 2024-01-01T11:00 | ID: `r1`") {
		t.Errorf("Expected last run in UTC+2, got:\n%s", got)
	}
}
