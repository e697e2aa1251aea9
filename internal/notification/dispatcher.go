package notification

import (
	"context"
	"log"
	"time"

	"github.com/barisx/Indicators/internal/model"
)

// Dispatcher turns transitions read from a result feed into alerts and
// sends each one to every notifier. A failing notifier does not stop the
// others.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration

	// OnSent is called after every delivery attempt.
	OnSent func(alert Alert, err error)
}

// NewDispatcher creates a dispatcher. timeout bounds each Send.
func NewDispatcher(timeout time.Duration, notifiers ...Notifier) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{notifiers: notifiers, timeout: timeout}
}

// Len returns the number of notifiers.
func (d *Dispatcher) Len() int { return len(d.notifiers) }

// Dispatch sends the alert for r, if r is a transition. Returns the number
// of notifiers that accepted it.
func (d *Dispatcher) Dispatch(ctx context.Context, r model.TrendResult) int {
	alert, ok := AlertFor(r)
	if !ok {
		return 0
	}
	delivered := 0
	for _, n := range d.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := n.Send(sendCtx, alert)
		cancel()
		if err != nil {
			log.Printf("[notify] %s: %v", alert.Title(), err)
		} else {
			delivered++
		}
		if d.OnSent != nil {
			d.OnSent(alert, err)
		}
	}
	return delivered
}

// Run dispatches every result read from in until ctx is cancelled or in
// is closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan model.TrendResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-in:
			if !ok {
				return
			}
			d.Dispatch(ctx, r)
		}
	}
}
