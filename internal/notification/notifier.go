// Package notification delivers trend transition alerts to external
// channels (log, generic webhooks, Telegram).
package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/barisx/Indicators/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo    AlertLevel = "INFO"
	AlertWarning AlertLevel = "WARNING"
)

// Alert describes one trend transition.
type Alert struct {
	Level      AlertLevel `json:"level"`
	Key        string     `json:"key"`
	Seq        int64      `json:"seq"`
	From       string     `json:"from"` // state of the broken line
	To         string     `json:"to"`   // state of the replacement line
	Projection float64    `json:"projection"`
	Speed      float64    `json:"speed"`
	TS         time.Time  `json:"ts"`
}

// AlertFor returns the alert for r, or false when r is not a transition.
// A transition that keeps the same direction is reported as a warning.
func AlertFor(r model.TrendResult) (Alert, bool) {
	if !r.Transition {
		return Alert{}, false
	}
	a := Alert{
		Level:      AlertInfo,
		Key:        r.Key(),
		Seq:        r.Seq,
		From:       r.Was.State,
		To:         r.Is.State,
		Projection: r.Projection,
		Speed:      r.Speed,
		TS:         r.TS,
	}
	if a.From == a.To {
		a.Level = AlertWarning
	}
	return a, true
}

// Title is a one-line summary, e.g. "NSE:3045 fall -> rise".
func (a Alert) Title() string {
	return fmt.Sprintf("%s %s -> %s", a.Key, a.From, a.To)
}

// Message is the alert body.
func (a Alert) Message() string {
	return fmt.Sprintf("seq=%d projection=%g speed=%g at %s",
		a.Seq, a.Projection, a.Speed, a.TS.UTC().Format(time.RFC3339))
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the standard logger.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title(), alert.Message())
	return nil
}
