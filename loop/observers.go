package loop

import (
	"errors"
	"fmt"
	"time"

	"bandlight/metrics"
	"bandlight/types"
)

// Observer is notified after every iteration, in registration order.
// Errors are logged and never stop the loop.
type Observer interface {
	Observe(it Iteration) error
}

type ObserverFunc func(Iteration) error

func (f ObserverFunc) Observe(it Iteration) error { return f(it) }

// SessionObserver is implemented by observers that also track session
// boundaries.
type SessionObserver interface {
	SessionStarted(s types.Session) error
	SessionEnded(s types.Session) error
}

type StatusReporter interface {
	Report(r types.Reading) error
}

// Status prints one line per iteration that produced a decision.
func Status(p StatusReporter) Observer {
	return ObserverFunc(func(it Iteration) error {
		if it.Result.Reading.Decision == nil {
			return nil
		}
		return p.Report(it.Result.Reading)
	})
}

type HistoryStore interface {
	CreateSession(s types.Session) error
	EndSession(id string, at time.Time) error
	AddReading(sessionID string, r types.Reading) error
}

type historyObserver struct {
	store HistoryStore
}

// History stores sessions and decided readings.
func History(store HistoryStore) Observer {
	return historyObserver{store: store}
}

func (h historyObserver) Observe(it Iteration) error {
	if it.Result.Reading.Decision == nil {
		return nil
	}
	return h.store.AddReading(it.SessionID, it.Result.Reading)
}

func (h historyObserver) SessionStarted(s types.Session) error { return h.store.CreateSession(s) }

func (h historyObserver) SessionEnded(s types.Session) error { return h.store.EndSession(s.ID, s.EndedAt) }

// Metrics updates the prometheus collectors.
func Metrics(m *metrics.Metrics) Observer {
	return ObserverFunc(func(it Iteration) error {
		res := it.Result
		for _, ce := range res.ChannelErrors {
			m.ChannelFailure(ce.Stage)
		}
		switch {
		case errors.Is(res.Err, types.ErrAcquisition):
			m.AcquisitionError()
			m.Iteration(metrics.OutcomeSkipped, 0)
		case errors.Is(res.Err, types.ErrEmptyAggregation):
			m.Iteration(metrics.OutcomeEmpty, it.Took)
		case res.Err != nil:
			m.Iteration(metrics.OutcomeSkipped, it.Took)
		default:
			m.Iteration(metrics.OutcomeDecided, it.Took)
		}
		if d := res.Reading.Decision; d != nil {
			m.Reading(res.Reading)
			m.Actuation(*d, it.SendErr)
		}
		return nil
	})
}

type WindowWriter interface {
	Write(w types.Window) error
}

// Record writes every acquired window, decided or not.
func Record(w WindowWriter) Observer {
	return ObserverFunc(func(it Iteration) error {
		if len(it.Window.Data) == 0 {
			return nil
		}
		if err := w.Write(it.Window); err != nil {
			return fmt.Errorf("error recording window: %w", err)
		}
		return nil
	})
}
