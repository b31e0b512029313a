package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kiranshivaraju/matchdesk/internal/api/response"
	"github.com/kiranshivaraju/matchdesk/internal/metrics"
)

// Recovery turns a handler panic into a 500 envelope. http.ErrAbortHandler is
// re-raised so net/http can drop the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(v)
			}

			metrics.PanicsRecovered.Inc()
			slog.Error("handler panicked",
				"request_id", GetRequestID(r),
				"route", r.Method+" "+r.URL.Path,
				"panic", v,
				"stack", string(debug.Stack()),
			)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Something went wrong on our side", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
