package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quinta-fleet/tirewatch/internal/domain"
	"github.com/quinta-fleet/tirewatch/internal/fleetlog"
	"github.com/quinta-fleet/tirewatch/internal/position"
	"github.com/quinta-fleet/tirewatch/internal/tireapi"
)

type fakeCatalog struct {
	axlesCount   int
	tiresPerAxle []int
	layoutFound  bool

	status, unitIdentifier, unitType string
	statusFound                      bool

	unitForTire string
	unitFound   bool
}

func (f *fakeCatalog) TruckLayout(ctx context.Context, plate string) (int, []int, bool, error) {
	return f.axlesCount, f.tiresPerAxle, f.layoutFound, nil
}

func (f *fakeCatalog) EnrichmentStatus(ctx context.Context, plate string) (string, string, string, bool, error) {
	return f.status, f.unitIdentifier, f.unitType, f.statusFound, nil
}

func (f *fakeCatalog) UnitIDForTire(ctx context.Context, tyreCode string) (string, bool, error) {
	return f.unitForTire, f.unitFound, nil
}

type fakeTireAPI struct {
	summary *tireapi.VehicleTireSummary
}

func (f *fakeTireAPI) TiresInfoByVehicle(ctx context.Context, vehicleID string) (*tireapi.VehicleTireSummary, error) {
	return f.summary, nil
}

type fakeStore struct {
	upserts     []storedDoc
	closeCalled bool
	closeResult bool
}

type storedDoc struct {
	collection string
	filter     map[string]interface{}
	doc        map[string]interface{}
}

func (f *fakeStore) Upsert(ctx context.Context, collection string, filter, doc map[string]interface{}) error {
	f.upserts = append(f.upserts, storedDoc{collection: collection, filter: filter, doc: doc})
	return nil
}

func (f *fakeStore) CloseOpenAlert(ctx context.Context, filter map[string]interface{}) (bool, error) {
	f.closeCalled = true
	return f.closeResult, nil
}

type fakeHub struct {
	broadcasts []broadcastCall
}

type broadcastCall struct {
	stream  string
	message string
}

func (f *fakeHub) Broadcast(ctx context.Context, stream, message string) {
	f.broadcasts = append(f.broadcasts, broadcastCall{stream: stream, message: message})
}

func newTestHandlers(catalog *fakeCatalog, tireAPI *fakeTireAPI, st *fakeStore, hub *fakeHub) *Handlers {
	return New(catalog, tireAPI, st, position.NewResolver(catalog), hub, fleetlog.NewVehicleRouter(16))
}

func TestHandleGPSUpsertsAndBroadcasts(t *testing.T) {
	catalog := &fakeCatalog{statusFound: true, status: "active", unitIdentifier: "UID-1", unitType: "tractor"}
	st := &fakeStore{closeResult: true}
	hub := &fakeHub{}
	h := newTestHandlers(catalog, &fakeTireAPI{}, st, hub)

	event := domain.Event{
		"licensePlateNumber": "T-100",
		"vehicleId":          "V-1",
		"receiveTime":        "2026-07-31T00:00:00Z",
	}

	err := h.HandleGPS(context.Background(), event)
	require.NoError(t, err)

	require.Len(t, st.upserts, 1)
	require.Equal(t, "TruckRideLog", st.upserts[0].collection)
	require.Equal(t, "active", st.upserts[0].doc["unitStatus"])

	require.True(t, st.closeCalled)
	require.Len(t, hub.broadcasts, 1)
	require.Equal(t, domain.TopicGPS, hub.broadcasts[0].stream)

	var broadcast map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(hub.broadcasts[0].message), &broadcast))
	_, hasID := broadcast["_id"]
	require.False(t, hasID)
}

func TestHandleSensorResolvesPositionAndRaisesAlert(t *testing.T) {
	catalog := &fakeCatalog{
		layoutFound: true, axlesCount: 2, tiresPerAxle: []int{2, 2},
		statusFound: true, unitIdentifier: "UID-9", unitType: "tractor",
	}
	st := &fakeStore{}
	hub := &fakeHub{}
	h := newTestHandlers(catalog, &fakeTireAPI{}, st, hub)

	event := domain.Event{
		"licensePlateNumber": "T-200",
		"vehicleId":          "V-2",
		"tyreId":             "TYRE-1",
		"axleIndex":          float64(1),
		"wheelIndex":         float64(1),
		"pressure":           float64(500),
		"temperature":        float64(60),
		"receiveTime":        "2026-07-31T00:00:00Z",
	}

	err := h.HandleSensor(context.Background(), event)
	require.NoError(t, err)

	require.Equal(t, 1, event["realPosition"])

	require.Len(t, st.upserts, 2)
	require.Equal(t, "Alerts", st.upserts[0].collection)
	require.Equal(t, "low_pressure", st.upserts[0].doc["name"])
	require.Equal(t, "Sensors", st.upserts[1].collection)

	require.Len(t, hub.broadcasts, 2)
	require.Equal(t, domain.TopicAlerts, hub.broadcasts[0].stream)
	require.Equal(t, domain.TopicSensor, hub.broadcasts[1].stream)
}

func TestHandleSensorSkipsAlertWithoutUnitIdentifier(t *testing.T) {
	catalog := &fakeCatalog{statusFound: false}
	st := &fakeStore{}
	hub := &fakeHub{}
	h := newTestHandlers(catalog, &fakeTireAPI{}, st, hub)

	event := domain.Event{
		"licensePlateNumber": "T-300",
		"vehicleId":          "V-3",
		"tyreId":             "TYRE-2",
		"pressure":           float64(500),
		"receiveTime":        "2026-07-31T00:00:00Z",
	}

	err := h.HandleSensor(context.Background(), event)
	require.NoError(t, err)

	for _, u := range st.upserts {
		require.NotEqual(t, "Alerts", u.collection)
	}
	for _, b := range hub.broadcasts {
		require.NotEqual(t, domain.TopicAlerts, b.stream)
	}
}

func TestHandleSensorSwapsTrailerPlate(t *testing.T) {
	catalog := &fakeCatalog{unitFound: true, unitForTire: "TRAILER-1", statusFound: true, unitIdentifier: "UID-1"}
	st := &fakeStore{}
	hub := &fakeHub{}
	h := newTestHandlers(catalog, &fakeTireAPI{}, st, hub)

	event := domain.Event{
		"licensePlateNumber":        "TRACTOR-1",
		"trailerLicensePlateNumber": "TRAILER-1",
		"tyreCode":                  "TYRE-X",
		"vehicleId":                 "V-4",
		"receiveTime":               "2026-07-31T00:00:00Z",
	}

	err := h.HandleSensor(context.Background(), event)
	require.NoError(t, err)

	require.Equal(t, "TRAILER-1", event.LicensePlateNumber())
	require.Equal(t, "TRACTOR-1", event["tractorName"])
	_, hasTrailer := event["trailerLicensePlateNumber"]
	require.False(t, hasTrailer)
}

func TestHandleLoadRaisesLowDepthAlert(t *testing.T) {
	catalog := &fakeCatalog{statusFound: true, unitIdentifier: "UID-5", unitType: "trailer"}
	st := &fakeStore{}
	hub := &fakeHub{}
	h := newTestHandlers(catalog, &fakeTireAPI{}, st, hub)

	event := domain.Event{
		"licensePlateNumber": "T-400",
		"vehicleId":          "V-5",
		"tyreId":             "TYRE-3",
		"nowThreadDepth":     float64(2),
		"calculateTime":      "2026-07-31T00:00:00Z",
	}

	err := h.HandleLoad(context.Background(), event)
	require.NoError(t, err)

	require.Len(t, st.upserts, 2)
	require.Equal(t, "low_depth", st.upserts[0].doc["name"])
	require.Equal(t, "Loads", st.upserts[1].collection)
}
