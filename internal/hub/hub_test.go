package hub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	messages []string
}

func (s *recordingSender) SendText(message string) error {
	s.messages = append(s.messages, message)
	return nil
}

type fakePlateLister struct {
	byCompany map[int][]string
	calls     int
}

func (f *fakePlateLister) PlatesForCompany(ctx context.Context, companyID int) ([]string, error) {
	f.calls++
	return f.byCompany[companyID], nil
}

func TestBroadcastPrivilegedCidReceivesEverything(t *testing.T) {
	h := New(&fakePlateLister{})
	sender := &recordingSender{}
	h.Connect(sender, []string{StreamGPS}, PrivilegedCompanyID, "")

	h.Broadcast(context.Background(), StreamGPS, `{"licensePlateNumber":"T-100"}`)

	require.Len(t, sender.messages, 1)
}

func TestBroadcastFiltersByCompanyPlates(t *testing.T) {
	lister := &fakePlateLister{byCompany: map[int][]string{7: {"T-100"}}}
	h := New(lister)

	allowed := &recordingSender{}
	denied := &recordingSender{}
	h.Connect(allowed, []string{StreamGPS}, 7, "")
	h.Connect(denied, []string{StreamGPS}, 8, "")

	h.Broadcast(context.Background(), StreamGPS, `{"licensePlateNumber":"T-100"}`)

	require.Len(t, allowed.messages, 1)
	require.Empty(t, denied.messages)
}

func TestBroadcastCachesPlateList(t *testing.T) {
	lister := &fakePlateLister{byCompany: map[int][]string{7: {"T-100"}}}
	h := New(lister)
	sender := &recordingSender{}
	h.Connect(sender, []string{StreamGPS}, 7, "")

	h.Broadcast(context.Background(), StreamGPS, `{"licensePlateNumber":"T-100"}`)
	h.Broadcast(context.Background(), StreamGPS, `{"licensePlateNumber":"T-100"}`)

	require.Equal(t, 1, lister.calls)
	require.Len(t, sender.messages, 2)
}

func TestBroadcastHonorsPNFilter(t *testing.T) {
	h := New(&fakePlateLister{})
	sender := &recordingSender{}
	h.Connect(sender, []string{StreamAlerts}, PrivilegedCompanyID, "T-999")

	h.Broadcast(context.Background(), StreamAlerts, `{"licensePlateNumber":"T-100"}`)
	require.Empty(t, sender.messages)

	h.Broadcast(context.Background(), StreamAlerts, `{"licensePlateNumber":"T-999"}`)
	require.Len(t, sender.messages, 1)
}

func TestBroadcastIgnoresUnknownStream(t *testing.T) {
	h := New(&fakePlateLister{})
	sender := &recordingSender{}
	sub := h.Connect(sender, []string{"not-a-real-stream"}, PrivilegedCompanyID, "")
	require.Empty(t, sub.streams)

	h.Broadcast(context.Background(), StreamGPS, `{"licensePlateNumber":"T-100"}`)
	require.Empty(t, sender.messages)
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	h := New(&fakePlateLister{})
	sender := &recordingSender{}
	sub := h.Connect(sender, []string{StreamGPS}, PrivilegedCompanyID, "")
	sub.Close()

	h.Broadcast(context.Background(), StreamGPS, `{"licensePlateNumber":"T-100"}`)
	require.Empty(t, sender.messages)
}
