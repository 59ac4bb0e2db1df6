package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/liamcoop/automations/internal/logger"
)

// Record is the durable representation of a Rule: one document per rule.
// Config payloads stay raw here and are decoded into typed variants by ToRule.
type Record struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	TriggerType   string          `json:"trigger_type"`
	TriggerConfig json.RawMessage `json:"trigger_config,omitempty"`
	ActionType    string          `json:"action_type"`
	ActionConfig  json.RawMessage `json:"action_config,omitempty"`
	Enabled       *bool           `json:"enabled,omitempty"`
	CreatedAt     string          `json:"created_at,omitempty"`
	LastRun       *string         `json:"last_run"`
}

// NewRecord converts a rule into its durable form
func NewRecord(r *Rule) (*Record, error) {
	trigger, err := encodeTrigger(r.Trigger)
	if err != nil {
		return nil, fmt.Errorf("encode trigger_config for %s: %w", r.ID, err)
	}
	action, err := encodeAction(r.Action)
	if err != nil {
		return nil, fmt.Errorf("encode action_config for %s: %w", r.ID, err)
	}

	enabled := r.Enabled
	rec := &Record{
		ID:            r.ID,
		Name:          r.Name,
		TriggerType:   string(r.TriggerType),
		TriggerConfig: trigger,
		ActionType:    string(r.ActionType),
		ActionConfig:  action,
		Enabled:       &enabled,
	}
	if !r.CreatedAt.IsZero() {
		rec.CreatedAt = FormatTimestamp(r.CreatedAt)
	}
	if r.LastRun != nil {
		s := FormatTimestamp(*r.LastRun)
		rec.LastRun = &s
	}
	return rec, nil
}

// ToRule decodes a durable record. Missing configs become empty configs,
// a missing enabled flag means enabled, and an unparseable last_run is
// treated as never run. Naive timestamps are read in time.Local.
func (rec *Record) ToRule() (*Rule, error) {
	return rec.ToRuleIn(nil)
}

// ToRuleIn is ToRule with naive created_at and last_run values read in loc
func (rec *Record) ToRuleIn(loc *time.Location) (*Rule, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("record is missing id")
	}
	return rec.decode(loc)
}

// ToDraft decodes a record whose id may still be empty.
// The id is assigned when the rule is created.
func (rec *Record) ToDraft() (*Rule, error) {
	return rec.decode(nil)
}

func (rec *Record) decode(loc *time.Location) (*Rule, error) {
	label := rec.ID
	if label == "" {
		label = "(new)"
	}
	switch {
	case rec.Name == "":
		return nil, fmt.Errorf("record %s is missing name", label)
	case rec.TriggerType == "":
		return nil, fmt.Errorf("record %s is missing trigger_type", label)
	case rec.ActionType == "":
		return nil, fmt.Errorf("record %s is missing action_type", label)
	}

	trigger, err := decodeTrigger(TriggerType(rec.TriggerType), rec.TriggerConfig)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", label, err)
	}
	action, err := decodeAction(ActionType(rec.ActionType), rec.ActionConfig)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", label, err)
	}

	r := &Rule{
		ID:          rec.ID,
		Name:        rec.Name,
		TriggerType: TriggerType(rec.TriggerType),
		Trigger:     trigger,
		ActionType:  ActionType(rec.ActionType),
		Action:      action,
		Enabled:     true,
	}
	if rec.Enabled != nil {
		r.Enabled = *rec.Enabled
	}
	if rec.CreatedAt != "" {
		if t, err := ParseTimestamp(rec.CreatedAt, loc); err == nil {
			r.CreatedAt = t
		} else {
			logger.Debug("ignoring unparseable created_at", "rule_id", rec.ID, "value", rec.CreatedAt)
		}
	}
	if rec.LastRun != nil && *rec.LastRun != "" {
		if t, err := ParseTimestamp(*rec.LastRun, loc); err == nil {
			r.LastRun = &t
		} else {
			logger.Warn("treating unparseable last_run as never run", "rule_id", rec.ID, "value", *rec.LastRun)
		}
	}
	return r, nil
}

// MarshalRule encodes a rule as an indented JSON document
func MarshalRule(r *Rule) ([]byte, error) {
	rec, err := NewRecord(r)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(rec, "", "  ")
}

// UnmarshalRule decodes a JSON document produced by MarshalRule (or an older writer)
func UnmarshalRule(data []byte) (*Rule, error) {
	return UnmarshalRuleIn(data, nil)
}

// UnmarshalRuleIn is UnmarshalRule with naive timestamps read in loc
func UnmarshalRuleIn(data []byte, loc *time.Location) (*Rule, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("invalid automation record: %w", err)
	}
	return rec.ToRuleIn(loc)
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func encodeTrigger(tc TriggerConfig) (json.RawMessage, error) {
	if tc == nil {
		return json.RawMessage("{}"), nil
	}
	if kw, ok := tc.(*KeywordConfig); ok && kw.Keywords == nil {
		c := *kw
		c.Keywords = []string{}
		tc = &c
	}
	return json.Marshal(tc)
}

func decodeTrigger(tt TriggerType, raw json.RawMessage) (TriggerConfig, error) {
	var tc TriggerConfig
	switch tt {
	case TriggerSchedule:
		tc = &ScheduleConfig{}
	case TriggerKeyword:
		tc = &KeywordConfig{Keywords: []string{}}
	case TriggerCondition:
		tc = &ConditionConfig{Days: DefaultDeadlineDays}
	default:
		return nil, fmt.Errorf("unknown trigger_type %q", tt)
	}
	if isEmptyJSON(raw) {
		return tc, nil
	}
	if err := json.Unmarshal(raw, tc); err != nil {
		return nil, fmt.Errorf("invalid trigger_config: %w", err)
	}
	return tc, nil
}

func encodeAction(ac ActionConfig) (json.RawMessage, error) {
	switch v := ac.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case *GenericAction:
		if v.Fields == nil {
			return json.RawMessage("{}"), nil
		}
		return json.Marshal(v.Fields)
	default:
		return json.Marshal(v)
	}
}

func decodeAction(at ActionType, raw json.RawMessage) (ActionConfig, error) {
	var ac ActionConfig
	switch at {
	case ActionMessage:
		ac = &MessageAction{}
	case ActionSummary:
		ac = &SummaryAction{}
	case ActionAlert:
		ac = &AlertAction{}
	case ActionSkill:
		ac = &SkillAction{}
	default:
		g := &GenericAction{Kind: at, Fields: map[string]any{}}
		if !isEmptyJSON(raw) {
			if err := json.Unmarshal(raw, &g.Fields); err != nil {
				return nil, fmt.Errorf("invalid action_config: %w", err)
			}
		}
		return g, nil
	}
	if isEmptyJSON(raw) {
		return ac, nil
	}
	if err := json.Unmarshal(raw, ac); err != nil {
		return nil, fmt.Errorf("invalid action_config: %w", err)
	}
	return ac, nil
}
