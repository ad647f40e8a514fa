package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quinta-fleet/tirewatch/internal/domain"
)

type recordingHandlers struct {
	gpsCalls    []domain.Event
	sensorCalls []domain.Event
	loadCalls   []domain.Event
	failWith    error
}

func (r *recordingHandlers) HandleGPS(ctx context.Context, event domain.Event) error {
	r.gpsCalls = append(r.gpsCalls, event)
	return r.failWith
}

func (r *recordingHandlers) HandleSensor(ctx context.Context, event domain.Event) error {
	r.sensorCalls = append(r.sensorCalls, event)
	return r.failWith
}

func (r *recordingHandlers) HandleLoad(ctx context.Context, event domain.Event) error {
	r.loadCalls = append(r.loadCalls, event)
	return r.failWith
}

func post(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandlerDispatchesGPSMessage(t *testing.T) {
	h := &recordingHandlers{}
	rec := post(t, Handler(h), `{"message": "{\"latitude\": 1.0, \"longitude\": 2.0, \"licensePlateNumber\": \"T-1\"}"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.gpsCalls, 1)
	require.Equal(t, "T-1", h.gpsCalls[0].LicensePlateNumber())
}

func TestHandlerDispatchesSensorMessage(t *testing.T) {
	h := &recordingHandlers{}
	rec := post(t, Handler(h), `{"message": "{\"pressure\": 110, \"temperature\": 60}"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.sensorCalls, 1)
}

func TestHandlerDispatchesLoadMessage(t *testing.T) {
	h := &recordingHandlers{}
	rec := post(t, Handler(h), `{"message": "{\"nowThreadDepth\": 5}"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.loadCalls, 1)
}

func TestHandlerRejectsInvalidEnvelopeJSON(t *testing.T) {
	h := &recordingHandlers{}
	rec := post(t, Handler(h), `not json`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRejectsInvalidMessageJSON(t *testing.T) {
	h := &recordingHandlers{}
	rec := post(t, Handler(h), `{"message": "not json"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRejectsUnknownMessageType(t *testing.T) {
	h := &recordingHandlers{}
	rec := post(t, Handler(h), `{"message": "{\"foo\": \"bar\"}"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerReturns500OnHandlerError(t *testing.T) {
	h := &recordingHandlers{failWith: require.AnError}
	rec := post(t, Handler(h), `{"message": "{\"nowThreadDepth\": 5}"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
