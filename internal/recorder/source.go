package recorder

import (
	"context"
	"errors"
	"time"

	"signal-recorder/internal/model"
	"signal-recorder/internal/session"
	"signal-recorder/pkg/smartapi"
)

// ErrSessionDead reports a check attempted against an expired broker
// session. The caller re-logs-in; nothing here retries.
var ErrSessionDead = errors.New("recorder: broker session expired")

// APISource fetches windows straight through an API client with no
// session gate. Used in staging against the local candle simulator.
type APISource struct {
	Client   *smartapi.Client
	Interval string
	Span     time.Duration
}

func (s *APISource) FetchWindow(ctx context.Context, inst model.Instrument, from time.Time) (model.Window, error) {
	return fetchWindow(ctx, s.Client, inst, s.Interval, from, s.Span)
}

// SessionSource fetches windows through a live broker session and fails
// fast when the session has expired.
type SessionSource struct {
	Session  *session.Session
	Interval string
	Span     time.Duration
}

func (s *SessionSource) FetchWindow(ctx context.Context, inst model.Instrument, from time.Time) (model.Window, error) {
	if !s.Session.Alive() {
		return nil, ErrSessionDead
	}
	return fetchWindow(ctx, s.Session.Client(), inst, s.Interval, from, s.Span)
}

func fetchWindow(ctx context.Context, client *smartapi.Client, inst model.Instrument, interval string, from time.Time, span time.Duration) (model.Window, error) {
	candles, err := client.GetCandleData(ctx, smartapi.CandleParams{
		Exchange:    inst.Exchange,
		SymbolToken: inst.Token,
		Interval:    interval,
		From:        from,
		To:          from.Add(span),
	})
	if err != nil {
		return nil, err
	}

	w := make(model.Window, 0, len(candles))
	for _, c := range candles {
		w = append(w, model.Candle{
			TS:     c.Timestamp,
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		})
	}
	return w, nil
}
