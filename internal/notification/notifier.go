// Package notification delivers optimizer run alerts to external channels
// (Telegram, webhooks, the log).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"tvbacktest/internal/optimizer"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level    AlertLevel `json:"level"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	Strategy string     `json:"strategy,omitempty"`
	RunID    string     `json:"run_id,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all of its notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunAlert summarises a finished grid search. The level is CRITICAL when
// every cell failed, WARNING when there is no usable best variant or some
// cells failed, INFO otherwise.
func RunAlert(runID string, r *optimizer.Report) Alert {
	a := Alert{
		Level:    AlertInfo,
		Title:    fmt.Sprintf("%s optimization finished", r.Strategy),
		Strategy: r.Strategy,
		RunID:    runID,
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d variants x %d datasets (%d cells", len(r.Variants), len(r.Datasets), r.Cells)
	if r.FailedCells > 0 {
		fmt.Fprintf(&sb, ", %d failed", r.FailedCells)
	}
	sb.WriteString(")\n")

	best, ok := r.Best()
	switch {
	case r.Cells > 0 && r.FailedCells == r.Cells:
		a.Level = AlertCritical
		sb.WriteString("every cell failed")
	case !ok:
		a.Level = AlertWarning
		sb.WriteString("no eligible variant could be scored")
	default:
		if r.FailedCells > 0 {
			a.Level = AlertWarning
		}
		fmt.Fprintf(&sb, "best %s: score %.2f, net %.2f%%, max DD %.2f%%",
			best.Params.Format(r.ParamNames), best.Score, best.AvgNetProfitPct, best.AvgMaxDrawdownPct)
	}
	a.Message = sb.String()
	return a
}
