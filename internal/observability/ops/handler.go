package ops

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"discordrelay/internal/storage"
	logx "discordrelay/pkg/logx"
)

// Health is the /healthz body. OK=false answers 503.
type Health struct {
	OK      bool           `json:"ok"`
	Details map[string]any `json:"details,omitempty"`
}

// DeliveryLister is the read side of the audit store.
type DeliveryLister interface {
	RecentDeliveries(ctx context.Context, limit int) ([]storage.DeliveryRecord, error)
}

// Deps are the app hooks the handlers read from. Nil fields disable the
// matching endpoint.
type Deps struct {
	Health     func() Health
	Deliveries DeliveryLister
}

const (
	defaultDeliveriesLimit = 50
	maxDeliveriesLimit     = 500
)

// NewHandler builds the ops mux for cfg.
func NewHandler(cfg Config, deps Deps, log logx.Logger) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.Handler) http.Handler { return withAuth(cfg.Token, h) }

	mux.Handle("/healthz", wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := Health{OK: true}
		if deps.Health != nil {
			h = deps.Health()
		}
		code := http.StatusOK
		if !h.OK {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, h, log)
	})))

	mux.Handle("/metrics", wrap(promhttp.Handler()))

	if deps.Deliveries != nil {
		mux.Handle("/deliveries", wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit := defaultDeliveriesLimit
			if raw := r.URL.Query().Get("limit"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n <= 0 {
					http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
					return
				}
				limit = min(n, maxDeliveriesLimit)
			}
			recs, err := deps.Deliveries.RecentDeliveries(r.Context(), limit)
			if err != nil {
				log.Warn("deliveries query failed", logx.Err(err))
				http.Error(w, "query failed", http.StatusInternalServerError)
				return
			}
			if recs == nil {
				recs = []storage.DeliveryRecord{}
			}
			writeJSON(w, http.StatusOK, recs, log)
		})))
	}

	if cfg.Pprof {
		mux.Handle("/debug/pprof/", wrap(http.HandlerFunc(hpprof.Index)))
		mux.Handle("/debug/pprof/cmdline", wrap(http.HandlerFunc(hpprof.Cmdline)))
		mux.Handle("/debug/pprof/profile", wrap(http.HandlerFunc(hpprof.Profile)))
		mux.Handle("/debug/pprof/symbol", wrap(http.HandlerFunc(hpprof.Symbol)))
		mux.Handle("/debug/pprof/trace", wrap(http.HandlerFunc(hpprof.Trace)))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any, log logx.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("ops response write failed", logx.Err(err))
	}
}

func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Accept either:
		//   Authorization: Bearer <token>
		// or query param: ?token=<token>
		if got := r.URL.Query().Get("token"); got != "" {
			if tokenEqual(got, tok) {
				h.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}
		if ah := r.Header.Get("Authorization"); ah != "" {
			const p = "Bearer "
			if strings.HasPrefix(ah, p) && tokenEqual(strings.TrimSpace(strings.TrimPrefix(ah, p)), tok) {
				h.ServeHTTP(w, r)
				return
			}
		}
		unauthorized(w)
	})
}

func tokenEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
