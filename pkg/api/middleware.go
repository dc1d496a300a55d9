package api

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/illmade-knight/tome-topics/pkg/auth"
	"github.com/illmade-knight/tome-topics/pkg/messagebus"
)

// correlation makes the x-correlation-id of a request, generated when absent,
// available to handlers and to everything they publish.
func (c *Controller) correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(auth.HeaderCorrelationID)
		if cid == "" {
			cid = uuid.NewString()
		}
		w.Header().Set(auth.HeaderCorrelationID, cid)

		log := c.logger.With().Str("cid", cid).Logger()
		ctx := log.WithContext(messagebus.WithCorrelationID(r.Context(), cid))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c *Controller) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		c.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("cid", ww.Header().Get(auth.HeaderCorrelationID)).
			Msg("Request served")
	})
}
