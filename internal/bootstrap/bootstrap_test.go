package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeDocStore struct {
	aggregateCalls []aggregateCall
	responses      []interface{}
	upserts        []map[string]interface{}
	findResult     interface{}
}

type aggregateCall struct {
	collection string
	pipeline   interface{}
}

func (f *fakeDocStore) Aggregate(ctx context.Context, collection string, pipeline interface{}, out interface{}) error {
	f.aggregateCalls = append(f.aggregateCalls, aggregateCall{collection: collection, pipeline: pipeline})

	idx := len(f.aggregateCalls) - 1
	if idx >= len(f.responses) {
		return nil
	}

	switch o := out.(type) {
	case *[]map[string]interface{}:
		if resp, ok := f.responses[idx].([]map[string]interface{}); ok {
			*o = resp
		}
	}
	return nil
}

func (f *fakeDocStore) Upsert(ctx context.Context, collection string, filter, doc map[string]interface{}) error {
	f.upserts = append(f.upserts, doc)
	return nil
}

func (f *fakeDocStore) Find(ctx context.Context, collection string, filter map[string]interface{}, sort map[string]interface{}, limit int64, out interface{}) error {
	if o, ok := out.(*[]map[string]interface{}); ok {
		if resp, ok := f.findResult.([]map[string]interface{}); ok {
			*o = resp
		}
	}
	return nil
}

type fakeHubBootstrap struct {
	broadcasts []string
}

func (f *fakeHubBootstrap) Broadcast(ctx context.Context, stream, message string) {
	f.broadcasts = append(f.broadcasts, message)
}

type fakePlateListerBootstrap struct {
	plates map[int][]string
}

func (f *fakePlateListerBootstrap) PlatesForCompany(ctx context.Context, companyID int) ([]string, error) {
	return f.plates[companyID], nil
}

func TestCleanSurrogatesLeavesValidUTF8Untouched(t *testing.T) {
	require.Equal(t, "hello", cleanSurrogates("hello"))
}

func TestCleanEntryStripsIDAndTagsSource(t *testing.T) {
	entry := map[string]interface{}{"_id": "abc", "licensePlateNumber": "T-1"}
	cleaned := cleanEntry(entry)
	_, hasID := cleaned["_id"]
	require.False(t, hasID)
	require.Equal(t, "initial", cleaned["source"])
}

func TestMinutesSinceReport(t *testing.T) {
	recent := time.Now().UTC().Add(-10 * time.Minute).Format(time.RFC3339)
	minutes, ok := minutesSinceReport(recent)
	require.True(t, ok)
	require.InDelta(t, 10, minutes, 1)

	_, ok = minutesSinceReport("not-a-time")
	require.False(t, ok)
}

func TestGPSTimeoutExceededMatchesThreshold(t *testing.T) {
	old := time.Now().UTC().Add(-45 * time.Minute).Format(time.RFC3339)
	minutes, ok := minutesSinceReport(old)
	require.True(t, ok)
	require.Greater(t, minutes, gpsTimeoutMinutes)
}

func TestGetInitialGPSEmptyForRestrictedEmptyPlateList(t *testing.T) {
	fs := &fakeDocStore{}
	hub := &fakeHubBootstrap{}
	catalog := &fakePlateListerBootstrap{plates: map[int][]string{7: {}}}
	svc := New(fs, hub, catalog)

	results, err := svc.GetInitialGPS(context.Background(), Filter{CID: 7, HasCID: true})
	require.NoError(t, err)
	require.Empty(t, results)
	require.Empty(t, fs.aggregateCalls)
}

func TestGetInitialGPSPrivilegedCIDIsUnrestricted(t *testing.T) {
	fs := &fakeDocStore{
		responses: []interface{}{
			[]map[string]interface{}{
				{"licensePlateNumber": "T-1", "vehicleId": "V-1", "receiveTime": time.Now().UTC().Format(time.RFC3339)},
			},
		},
	}
	hub := &fakeHubBootstrap{}
	catalog := &fakePlateListerBootstrap{}
	svc := New(fs, hub, catalog)

	results, err := svc.GetInitialGPS(context.Background(), Filter{CID: 2, HasCID: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "initial", results[0]["source"])
}

func TestGetInitialGPSSynthesizesTimeoutAlert(t *testing.T) {
	stale := time.Now().UTC().Add(-45 * time.Minute).Format(time.RFC3339)
	fs := &fakeDocStore{
		responses: []interface{}{
			[]map[string]interface{}{
				{"licensePlateNumber": "T-1", "vehicleId": "V-1", "receiveTime": stale, "unitIdentifier": "UID-1"},
			},
		},
	}
	hub := &fakeHubBootstrap{}
	catalog := &fakePlateListerBootstrap{}
	svc := New(fs, hub, catalog)

	results, err := svc.GetInitialGPS(context.Background(), Filter{LicensePlateNumber: "T-1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "offline", results[0]["unitStatus"])
	require.Len(t, fs.upserts, 1)
	require.Equal(t, "gps_timeout", fs.upserts[0]["name"])
}
