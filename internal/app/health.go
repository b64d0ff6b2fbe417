package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fieldcrew/identity/internal/platform/httpx"
)

// ReadinessChecker probes one dependency.
type ReadinessChecker interface {
	Name() string
	Check(ctx context.Context) error
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "identity"})
}

type readinessReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// readinessHandler probes every dependency concurrently and answers 503 if any fails.
func readinessHandler(logger *slog.Logger, checkers []ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := make([]error, len(checkers))
		var g errgroup.Group
		for i, c := range checkers {
			g.Go(func() error {
				results[i] = c.Check(ctx)
				return nil
			})
		}
		_ = g.Wait()

		report := readinessReport{Status: "ready", Checks: make(map[string]string, len(checkers))}
		status := http.StatusOK
		for i, c := range checkers {
			if err := results[i]; err != nil {
				if logger != nil {
					logger.Warn("readiness check failed", slog.String("dependency", c.Name()), slog.Any("error", err))
				}
				report.Checks[c.Name()] = "unavailable"
				report.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			report.Checks[c.Name()] = "ok"
		}
		httpx.JSON(w, status, report)
	}
}
