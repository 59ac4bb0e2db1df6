package main

import (
	"encoding/json"

	"github.com/liamcoop/automations/automation"
	"github.com/liamcoop/automations/rules"
)

// API request and response models

// CreateAutomationRequest creates a rule from a sentence (Text) or,
// when Text is empty, from structured fields
type CreateAutomationRequest struct {
	Text string `json:"text,omitempty" example:"Every Monday at 9am, send me a weekly summary"`

	ID            string          `json:"id,omitempty" example:"weekly-summary"`
	Name          string          `json:"name,omitempty" example:"Weekly summary"`
	TriggerType   string          `json:"trigger_type,omitempty" example:"schedule"`
	TriggerConfig json.RawMessage `json:"trigger_config,omitempty"`
	ActionType    string          `json:"action_type,omitempty" example:"summary"`
	ActionConfig  json.RawMessage `json:"action_config,omitempty"`
	Enabled       *bool           `json:"enabled,omitempty"`
} // @name CreateAutomationRequest

// record leaves an empty id empty; Manager.Create assigns one
func (req *CreateAutomationRequest) record() *rules.Record {
	return &rules.Record{
		ID:            req.ID,
		Name:          req.Name,
		TriggerType:   req.TriggerType,
		TriggerConfig: req.TriggerConfig,
		ActionType:    req.ActionType,
		ActionConfig:  req.ActionConfig,
		Enabled:       req.Enabled,
	}
}

// AutomationsListResponse lists stored rules in their durable form
type AutomationsListResponse struct {
	Automations []*rules.Record `json:"automations"`
} // @name AutomationsListResponse

// ToggleResponse reports a rule's new enabled state
type ToggleResponse struct {
	ID      string `json:"id" example:"0123456789ab"`
	Enabled bool   `json:"enabled" example:"false"`
} // @name ToggleResponse

// MessageRequest is an inbound message checked against keyword rules
type MessageRequest struct {
	Text   string `json:"text" example:"Invoice #42 is attached"`
	Sender string `json:"sender,omitempty" example:"billing@example.com"`
} // @name MessageRequest

// FiringResponse is one executed rule
type FiringResponse struct {
	ID     string `json:"id" example:"0123456789ab"`
	Name   string `json:"name" example:"When I get an email about invoices, alert me"`
	Result string `json:"result" example:"🚨 ALERT: When I get an email about invoices, alert me"`
	Error  string `json:"error,omitempty"`
} // @name FiringResponse

// FiringsResponse is the outcome of one evaluation pass
type FiringsResponse struct {
	Fired []FiringResponse `json:"fired"`
	At    string           `json:"at,omitempty" example:"2024-01-15T09:00:00Z"`
} // @name FiringsResponse

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"could not understand automation"`
	Details string `json:"details,omitempty"`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string           `json:"status" example:"healthy"`
	Automations int              `json:"automations" example:"3"`
	Counters    map[string]int64 `json:"counters"`
} // @name HealthResponse

func toFiringsResponse(firings []automation.Firing) FiringsResponse {
	resp := FiringsResponse{Fired: make([]FiringResponse, 0, len(firings))}
	for _, f := range firings {
		fr := FiringResponse{
			ID:     f.Rule.ID,
			Name:   f.Rule.Name,
			Result: f.Result,
		}
		if f.Err != nil {
			fr.Error = f.Err.Error()
		}
		resp.Fired = append(resp.Fired, fr)
	}
	return resp
}
