package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/vigilops/vigil-core/internal/journal"
)

type Audit struct {
	journal *journal.Service
}

func NewAudit(j *journal.Service) *Audit {
	return &Audit{journal: j}
}

// LogMutations journals every mutating API call after it completes.
// Writes happen off-request; the journal has its own spool failover,
// so a DB outage never slows the API down.
func (m *Audit) LogMutations(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			return
		}

		actor := "anonymous"
		if ac, ok := GetAuthContext(r.Context()); ok {
			actor = ac.Subject
		}

		entry := journal.ConfigChange(actor, r.Method, r.URL.Path, rw.status, time.Since(start).Milliseconds())
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = m.journal.Write(ctx, entry)
		}()
	})
}
