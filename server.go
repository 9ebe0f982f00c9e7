package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"bandlight/loop"
	"bandlight/metrics"
	"bandlight/types"
)

type snapshotter interface {
	Snapshot() loop.Snapshot
}

type bandJSON struct {
	Band string  `json:"band"`
	Mean float64 `json:"mean"`
}

type readingJSON struct {
	Time     time.Time  `json:"time"`
	Band     string     `json:"band"`
	Mean     float64    `json:"mean"`
	Channels int        `json:"channels"`
	Decision string     `json:"decision"`
	Others   []bandJSON `json:"others,omitempty"`
}

type statusJSON struct {
	State        string       `json:"state"`
	SessionID    string       `json:"sessionId,omitempty"`
	Source       string       `json:"source,omitempty"`
	SamplingRate float64      `json:"samplingRate,omitempty"`
	Threshold    float64      `json:"threshold"`
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
	Iterations   int64        `json:"iterations"`
	Last         *readingJSON `json:"last,omitempty"`
}

func newStatus(s loop.Snapshot) statusJSON {
	out := statusJSON{
		State:        string(s.State),
		SessionID:    s.Session.ID,
		Source:       s.Session.Source,
		SamplingRate: s.Session.SamplingRate,
		Threshold:    s.Session.Threshold,
		Iterations:   s.Iterations,
	}
	if !s.Session.StartedAt.IsZero() {
		t := s.Session.StartedAt
		out.StartedAt = &t
	}
	if r := s.Last; r != nil {
		out.Last = &readingJSON{
			Time:     r.Time,
			Band:     r.Band,
			Mean:     r.Mean,
			Channels: r.Channels,
			Decision: decisionName(r.Decision),
		}
		for _, o := range r.Others {
			out.Last.Others = append(out.Last.Others, bandJSON{Band: o.Band, Mean: o.Mean})
		}
	}
	return out
}

func decisionName(d *types.State) string {
	if d == nil {
		return "NONE"
	}
	return d.String()
}

// newRouter exposes the loop snapshot and the metrics. It only reads
// published state and never touches the session or actuator handles.
func newRouter(src snapshotter, m *metrics.Metrics, log zerolog.Logger) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		healthHandler(w, src.Snapshot().State)
	}).Methods("GET")
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(newStatus(src.Snapshot())); err != nil {
			log.Error().Err(err).Msg("error writing status")
		}
	}).Methods("GET")
	r.Handle("/metrics", m.Handler()).Methods("GET")

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "OPTIONS"}),
	)
	return handlers.RecoveryHandler()(cors(r))
}

func healthHandler(w http.ResponseWriter, s loop.State) {
	switch s {
	case loop.Stopping, loop.Stopped:
		http.Error(w, string(s), http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

// serveStatus runs the status server until ctx is done.
func serveStatus(ctx context.Context, addr string, h http.Handler, log zerolog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.LoggingHandler(os.Stderr, h),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("status server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Str("addr", addr).Msg("status server failed")
	}
}
