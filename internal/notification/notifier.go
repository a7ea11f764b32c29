// Package notification delivers signal alerts to external channels
// (Telegram, webhooks) and to the process log. Delivery runs off the
// check path and is best-effort: a failed alert is logged and dropped,
// never retried, and never affects the recorded signal.
package notification

import (
	"context"
	"fmt"
	"log"

	"signal-recorder/internal/model"
)

// AlertLevel grades an alert for channels that render severity.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"     // actionable signal recorded
	AlertWarning  AlertLevel = "WARNING"  // a check aborted
	AlertCritical AlertLevel = "CRITICAL" // reserved for session loss and worse
)

// Alert is one outgoing notification. Fields carries structured extras
// for channels that can render them; the log channel ignores it.
type Alert struct {
	Level   AlertLevel        `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Notifier delivers alerts over one channel.
type Notifier interface {
	// Name identifies the channel, e.g. "telegram".
	Name() string
	// Send delivers one alert or reports why it could not.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the process log. Always enabled, so every
// alert leaves at least one trace even with no external channel set up.
type LogNotifier struct{}

// NewLogNotifier returns the always-on log channel.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] %s %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// SignalAlert turns a recorded signal into an alert. Only actionable
// labels produce one; HOLD and "No Data" return false.
func SignalAlert(sig model.Signal) (Alert, bool) {
	if !sig.Label.Actionable() {
		return Alert{}, false
	}
	return Alert{
		Level:   AlertInfo,
		Title:   fmt.Sprintf("%s signal recorded", sig.Label),
		Message: fmt.Sprintf("Signal %s recorded at %s", sig.Label, sig.Timestamp),
		Fields: map[string]string{
			"signal":    string(sig.Label),
			"timestamp": sig.Timestamp,
		},
	}, true
}

// FailureAlert reports an aborted check.
func FailureAlert(stage string, err error) Alert {
	return Alert{
		Level:   AlertWarning,
		Title:   fmt.Sprintf("check failed (%s)", stage),
		Message: err.Error(),
		Fields:  map[string]string{"stage": stage},
	}
}

// Pump consumes appended signals from the bus and broadcasts alerts for
// the actionable ones to every configured notifier.
type Pump struct {
	notifiers []Notifier

	// OnSent fires per successful delivery with the channel name. Optional.
	OnSent func(channel string)
}

// NewPump creates a pump over the given notifiers.
func NewPump(notifiers ...Notifier) *Pump {
	return &Pump{notifiers: notifiers}
}

// Broadcast sends one alert to every notifier. Failures are logged per
// channel and do not stop the others.
func (p *Pump) Broadcast(ctx context.Context, alert Alert) {
	for _, n := range p.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			log.Printf("[notify] %s delivery failed: %v", n.Name(), err)
			continue
		}
		if p.OnSent != nil {
			p.OnSent(n.Name())
		}
	}
}

// Run consumes signals until ctx ends or the channel closes.
func (p *Pump) Run(ctx context.Context, signals <-chan model.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if alert, ok := SignalAlert(sig); ok {
				p.Broadcast(ctx, alert)
			}
		}
	}
}
