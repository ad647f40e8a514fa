// Package bridge implements C10: the ingress HTTP endpoint that accepts
// telemetry forwarded by the Java bridge process, which wraps each
// message as a JSON-encoded string inside a JSON envelope rather than
// publishing to Kafka directly. Grounded on the original's
// app/api/bridge_endpoint.py.
package bridge

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/quinta-fleet/tirewatch/internal/domain"
	"github.com/quinta-fleet/tirewatch/internal/fleetlog"
)

// MessageHandlers is the subset of C6 the bridge dispatches to. A
// message arriving through the bridge is never trailer-duplicated the
// way the Kafka GPS topic is (spec.md's Open Questions: the Java
// bridge already resolves the trailer split upstream, so a second
// dispatch here would double-count it).
type MessageHandlers interface {
	HandleGPS(ctx context.Context, event domain.Event) error
	HandleSensor(ctx context.Context, event domain.Event) error
	HandleLoad(ctx context.Context, event domain.Event) error
}

type envelope struct {
	Message string `json:"message"`
}

type response struct {
	Status      string `json:"status"`
	MessageType string `json:"message_type,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// Handler builds the POST /api/messages http.Handler.
func Handler(handlers MessageHandlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var env envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			fleetlog.Errorf("bridge: decoding envelope: %v", err)
			writeJSON(w, http.StatusBadRequest, response{Status: "error", Detail: "invalid JSON format in message payload"})
			return
		}

		fleetlog.Infof("received message from java bridge: %s", env.Message)

		var event domain.Event
		if err := json.Unmarshal([]byte(env.Message), &event); err != nil {
			fleetlog.Errorf("bridge: decoding message string: %v", err)
			writeJSON(w, http.StatusBadRequest, response{Status: "error", Detail: "invalid JSON format in message payload"})
			return
		}

		kind := domain.Classify(event)
		fleetlog.Infof("determined message type: %s", kind)

		var err error
		switch kind {
		case domain.KindGPS:
			err = handlers.HandleGPS(r.Context(), event)
		case domain.KindSensor:
			err = handlers.HandleSensor(r.Context(), event)
		case domain.KindLoad:
			err = handlers.HandleLoad(r.Context(), event)
		default:
			fleetlog.Warnf("bridge: unknown message type for payload: %s", env.Message)
			writeJSON(w, http.StatusBadRequest, response{Status: "error", Detail: "unknown message type"})
			return
		}

		if err != nil {
			fleetlog.Errorf("bridge: processing message from bridge: %v", err)
			writeJSON(w, http.StatusInternalServerError, response{Status: "error", Detail: "internal server error: " + err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, response{Status: "success", MessageType: kind.String()})
	}
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		fleetlog.Errorf("bridge: encoding response: %v", err)
	}
}
