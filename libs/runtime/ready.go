package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ReadyCheck is a named check reported by /readyz. It may cover an external
// dependency or an internal engine loop.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

// Readiness is the /readyz body. Checks maps each check name to "ok" or the
// failure text.
type Readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

const checkTimeout = 2 * time.Second

// Evaluate runs every check concurrently, each bounded by its own timeout.
func Evaluate(ctx context.Context, checks ...ReadyCheck) Readiness {
	res := Readiness{Status: "ready", Checks: make(map[string]string, len(checks))}
	var mu sync.Mutex
	var g errgroup.Group
	for _, check := range checks {
		if check.Check == nil {
			continue
		}
		name := check.Name
		if name == "" {
			name = "dependency"
		}
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			outcome := "ok"
			if err := check.Check(cctx); err != nil {
				outcome = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			res.Checks[name] = outcome
			if outcome != "ok" {
				res.Status = "not_ready"
			}
			return nil
		})
	}
	_ = g.Wait()
	return res
}

// NewBaseMuxWithReady serves /healthz (process alive) and /readyz (every
// check passing, 503 otherwise).
func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		res := Evaluate(r.Context(), checks...)
		status := http.StatusOK
		if res.Status != "ready" {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(res)
	})
	return mux
}
