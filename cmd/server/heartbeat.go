package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/liamcoop/automations/automation"
	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/rules"
)

// Heartbeat runs an evaluation pass on a cron spec in the manager's time zone
type Heartbeat struct {
	manager *automation.Manager
	cron    *cron.Cron
	spec    string
}

// NewHeartbeat schedules manager.RunDue on spec
func NewHeartbeat(manager *automation.Manager, spec string) (*Heartbeat, error) {
	log := cronLogger{}
	c := cron.New(
		cron.WithLocation(manager.Location()),
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)

	h := &Heartbeat{manager: manager, cron: c, spec: spec}
	if _, err := c.AddFunc(spec, func() { h.tickOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid tick spec %q: %w", spec, err)
	}
	return h, nil
}

// Start begins ticking in the background
func (h *Heartbeat) Start() {
	logger.Info("heartbeat started", "spec", h.spec, "timezone", h.manager.Location().String())
	h.cron.Start()
}

// Stop waits for a running pass to finish
func (h *Heartbeat) Stop() {
	<-h.cron.Stop().Done()
	logger.Info("heartbeat stopped")
}

func (h *Heartbeat) tickOnce(ctx context.Context) []automation.Firing {
	now := h.manager.Now()
	firings := h.manager.RunDue(ctx, now, deliverToLog)

	failed := 0
	for _, f := range firings {
		if f.Err != nil {
			failed++
		}
	}
	logger.Debug("tick", "at", now.Format(time.RFC3339), "fired", len(firings), "failed", failed)
	return firings
}

// deliverToLog is the server's delivery path: results go to the structured log
func deliverToLog(_ context.Context, rule *rules.Rule, result string) error {
	logger.Info("automation result", "rule_id", rule.ID, "name", rule.Name, "result", result)
	return nil
}

// cronLogger routes robfig/cron's logging into the service logger
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger.Trace("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
