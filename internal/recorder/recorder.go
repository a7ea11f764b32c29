// Package recorder runs the check flow: fetch one candle window, classify
// it, append the outcome to the signal log, and hand the appended signal
// to the delivery bus. The chain is synchronous and aborts on the first
// failure; only a successful append reaches the bus.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"signal-recorder/internal/classifier"
	"signal-recorder/internal/logger"
	"signal-recorder/internal/model"
)

// CandleSource fetches the candle window a check classifies. from is the
// window start; the source decides the span.
type CandleSource interface {
	FetchWindow(ctx context.Context, inst model.Instrument, from time.Time) (model.Window, error)
}

// SignalAppender records classified signals durably.
type SignalAppender interface {
	Append(model.Signal) error
}

// SignalBus receives each signal after its append succeeded.
type SignalBus interface {
	Publish(model.Signal)
}

// CheckRequest names the instrument and the window start to classify.
type CheckRequest struct {
	Instrument model.Instrument
	At         time.Time
}

// CheckResult is what a completed check produced.
type CheckResult struct {
	Signal model.Signal // the row as recorded
	Window model.Window // what classification saw
}

// Service orchestrates checks. Construct with New, wire the optional
// fields before first use.
type Service struct {
	source CandleSource
	store  SignalAppender

	// Bus receives each recorded signal. Optional.
	Bus SignalBus

	// Now stamps recorded signals; overridable in tests.
	Now func() time.Time

	// OnChecked fires after a successful check with the recorded label
	// and the fetch/append durations. Optional.
	OnChecked func(label model.Label, fetchDur, appendDur time.Duration)

	// OnFailure fires when a check aborts; stage is "fetch" or "append".
	// Optional.
	OnFailure func(stage string, err error)
}

// New creates a check service over the given source and store.
func New(source CandleSource, store SignalAppender) *Service {
	return &Service{source: source, store: store, Now: time.Now}
}

// Check runs one user-triggered check. An empty window is not an error:
// it classifies as "No Data" and is recorded like any other outcome. A
// fetch or append failure aborts the check with nothing committed beyond
// what already succeeded.
func (s *Service) Check(ctx context.Context, req CheckRequest) (CheckResult, error) {
	ctx = logger.WithCheckTrace(ctx, req.Instrument.Token, s.Now())

	fetchStart := s.Now()
	window, err := s.source.FetchWindow(ctx, req.Instrument, req.At)
	fetchDur := s.Now().Sub(fetchStart)
	if err != nil {
		if s.OnFailure != nil {
			s.OnFailure("fetch", err)
		}
		slog.Error("check aborted: window fetch failed",
			logger.Trace(ctx), "instrument", req.Instrument.Key(), "err", err)
		return CheckResult{}, fmt.Errorf("recorder: fetch window: %w", err)
	}

	label := classifier.Classify(window)
	sig := model.NewSignal(label, s.Now())

	appendStart := s.Now()
	if err := s.store.Append(sig); err != nil {
		if s.OnFailure != nil {
			s.OnFailure("append", err)
		}
		slog.Error("check aborted: signal append failed",
			logger.Trace(ctx), "label", string(label), "err", err)
		return CheckResult{}, fmt.Errorf("recorder: record signal: %w", err)
	}
	appendDur := s.Now().Sub(appendStart)

	if s.OnChecked != nil {
		s.OnChecked(label, fetchDur, appendDur)
	}
	if s.Bus != nil {
		s.Bus.Publish(sig)
	}

	slog.Info("check recorded",
		logger.Trace(ctx),
		"instrument", req.Instrument.Key(),
		"label", string(label),
		"window_rows", len(window))
	return CheckResult{Signal: sig, Window: window}, nil
}
