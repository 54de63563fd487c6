package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alfylabs/billing/pkg/logger"
)

// HealthCheckHandler returns a handler usable for both liveness and readiness
// probes.
//
//   - Liveness: with no dependency functions it answers 200 "ALIVE".
//   - Readiness: each supplied function is executed; if all succeed the
//     handler answers 200 "READY", otherwise 500 "NOT_READY".
func HealthCheckHandler(ctx context.Context, log *slog.Logger, funcs ...func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(funcs) == 0 {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ALIVE"))
			return
		}

		for _, f := range funcs {
			if err := f(ctx); err != nil {
				log.ErrorContext(ctx, "Readiness check failed", logger.Error(err))
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("NOT_READY"))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	}
}
