// Package health provides the liveness and readiness probes for the
// transcoding service.
//
//   - /healthz reports liveness; a process that can serve HTTP is alive, so
//     it always returns 200.
//   - /readyz evaluates the registered [Check] probes and returns 200 only
//     when every one of them passes.
//
// The response body is JSON: {"status":"ok"|"fail","checks":{name:detail}}.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/waveforge/pkg/transcode"
)

// readyDeadline bounds the evaluation of all readiness probes combined.
const readyDeadline = 5 * time.Second

// Check probes one dependency of the service. Probe must return nil when the
// dependency is healthy and must respect context cancellation.
type Check struct {
	// Name keys the probe's result in the JSON response.
	Name string

	Probe func(ctx context.Context) error
}

// Pipeline returns a [Check] that reports ready while the pipeline is in a
// usable state. A failed or closed pipeline fails the probe.
func Pipeline(name string, state func() transcode.State) Check {
	return Check{
		Name: name,
		Probe: func(context.Context) error {
			switch s := state(); s {
			case transcode.StateFailed, transcode.StateClosed:
				return fmt.Errorf("pipeline is %s", s)
			default:
				return nil
			}
		},
	}
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Liveness returns the /healthz handler.
func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeReport(w, http.StatusOK, report{Status: "ok"})
	}
}

// Readiness returns the /readyz handler. Probes run sequentially in the
// order given, sharing a [readyDeadline] context derived from the request.
func Readiness(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyDeadline)
		defer cancel()

		rep := report{
			Status: "ok",
			Checks: make(map[string]string, len(checks)),
		}
		status := http.StatusOK
		for _, c := range checks {
			if err := c.Probe(ctx); err != nil {
				rep.Checks[c.Name] = "fail: " + err.Error()
				rep.Status = "fail"
				status = http.StatusServiceUnavailable
			} else {
				rep.Checks[c.Name] = "ok"
			}
		}

		writeReport(w, status, rep)
	}
}

// Register mounts both probes on mux.
func Register(mux *http.ServeMux, checks ...Check) {
	mux.HandleFunc("/healthz", Liveness())
	mux.HandleFunc("/readyz", Readiness(checks...))
}

func writeReport(w http.ResponseWriter, status int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
