// Package httpapi assembles the gorilla/mux router exposing the
// WebSocket subscription streams (C8), the /init/* snapshot endpoints
// (C9) and the bridge ingress endpoint (C10), with the same
// compression/recovery/CORS/logging middleware stack the teacher
// wraps its own router in.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/quinta-fleet/tirewatch/internal/bootstrap"
	"github.com/quinta-fleet/tirewatch/internal/bridge"
	"github.com/quinta-fleet/tirewatch/internal/fleetlog"
	"github.com/quinta-fleet/tirewatch/internal/hub"
)

// Filter is an alias of bootstrap.Filter, kept under this package's
// own name so call sites reading this file don't need to jump to
// internal/bootstrap to see the query shape.
type Filter = bootstrap.Filter

// Bootstrap is the subset of C9 the router needs.
type Bootstrap interface {
	GetInitialGPS(ctx context.Context, f Filter) ([]map[string]interface{}, error)
	GetInitialSensor(ctx context.Context, f Filter) ([]map[string]interface{}, error)
	GetInitialLoad(ctx context.Context, f Filter) ([]map[string]interface{}, error)
	GetInitialAlerts(ctx context.Context, f Filter) ([]map[string]interface{}, error)
}

// NewRouter wires every C8/C9/C10 endpoint onto a fresh mux.Router.
func NewRouter(h *hub.Hub, bootstrapSvc Bootstrap, bridgeHandlers bridge.MessageHandlers) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws/gps", h.ServeStream(hub.StreamGPS))
	r.HandleFunc("/ws/load", h.ServeStream(hub.StreamLoad))
	r.HandleFunc("/ws/sensor", h.ServeStream(hub.StreamSensor))
	r.HandleFunc("/ws/alerts", h.ServeStream(hub.StreamAlerts))

	r.HandleFunc("/init/gps", initHandler(bootstrapSvc.GetInitialGPS)).Methods(http.MethodGet)
	r.HandleFunc("/init/sensor", initHandler(bootstrapSvc.GetInitialSensor)).Methods(http.MethodGet)
	r.HandleFunc("/init/load", initHandler(bootstrapSvc.GetInitialLoad)).Methods(http.MethodGet)
	r.HandleFunc("/init/alerts", initHandler(bootstrapSvc.GetInitialAlerts)).Methods(http.MethodGet)

	r.HandleFunc("/api/messages", bridge.Handler(bridgeHandlers)).Methods(http.MethodPost)

	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	r.Use(func(next http.Handler) http.Handler {
		return handlers.CORS(
			handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization", "Origin"}),
			handlers.AllowedMethods([]string{"GET", "POST", "HEAD", "OPTIONS"}),
			handlers.AllowedOrigins([]string{"*"}))(next)
	})

	return handlers.CustomLoggingHandler(io.Discard, r, func(_ io.Writer, params handlers.LogFormatterParams) {
		fleetlog.Debugf("%s %s (%d, %.02fkb, %dms)",
			params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, float32(params.Size)/1024,
			time.Since(params.TimeStamp).Milliseconds())
	})
}

func decodeFilter(r *http.Request) Filter {
	q := r.URL.Query()
	f := Filter{LicensePlateNumber: q.Get("licensePlateNumber")}
	if cidStr := q.Get("cid"); cidStr != "" {
		if cid, err := strconv.Atoi(cidStr); err == nil {
			f.CID = cid
			f.HasCID = true
		}
	}
	if pn, ok := q["pn"]; ok {
		f.PN = pn
	}
	return f
}

func initHandler(fn func(ctx context.Context, f Filter) ([]map[string]interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := fn(r.Context(), decodeFilter(r))
		if err != nil {
			fleetlog.Errorf("httpapi: %s: %v", r.URL.Path, err)
			http.Error(w, strings.TrimPrefix(err.Error(), "bootstrap: "), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(results); err != nil {
			fleetlog.Errorf("httpapi: encoding response for %s: %v", r.URL.Path, err)
		}
	}
}
