package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quinta-fleet/tirewatch/internal/domain"
)

type recordingHandlers struct {
	gpsCalls []domain.Event
}

func (r *recordingHandlers) HandleGPS(ctx context.Context, event domain.Event) error {
	r.gpsCalls = append(r.gpsCalls, event)
	return nil
}

func (r *recordingHandlers) HandleSensor(ctx context.Context, event domain.Event) error { return nil }
func (r *recordingHandlers) HandleLoad(ctx context.Context, event domain.Event) error   { return nil }

func TestDispatchGPSWithoutTrailerCallsOnce(t *testing.T) {
	handlers := &recordingHandlers{}
	c := &Consumer{handlers: handlers}

	event := domain.Event{"licensePlateNumber": "T-100"}
	require.NoError(t, c.dispatchGPS(context.Background(), event))

	require.Len(t, handlers.gpsCalls, 1)
	require.Equal(t, "T-100", handlers.gpsCalls[0].LicensePlateNumber())
}

func TestDispatchGPSWithTrailerCallsTwiceWithIndependentCopies(t *testing.T) {
	handlers := &recordingHandlers{}
	c := &Consumer{handlers: handlers}

	event := domain.Event{
		"licensePlateNumber":        "TRACTOR-1",
		"trailerLicensePlateNumber": "TRAILER-1",
	}
	require.NoError(t, c.dispatchGPS(context.Background(), event))

	require.Len(t, handlers.gpsCalls, 2)
	require.Equal(t, "TRACTOR-1", handlers.gpsCalls[0].LicensePlateNumber())
	require.Equal(t, "TRAILER-1", handlers.gpsCalls[1].LicensePlateNumber())

	// Mutating one call's event must not affect the other or the
	// original — each dispatch got its own deep-enough copy.
	handlers.gpsCalls[0]["licensePlateNumber"] = "MUTATED"
	require.Equal(t, "TRAILER-1", handlers.gpsCalls[1].LicensePlateNumber())
	require.Equal(t, "TRACTOR-1", event.LicensePlateNumber())
}

func TestTopicsMatchSpec(t *testing.T) {
	require.ElementsMatch(t, []string{domain.TopicGPS, domain.TopicLoad, domain.TopicSensor}, Topics)
}

func TestSASLMechanismSelectsByName(t *testing.T) {
	for _, name := range []string{"PLAIN", "plain", "SCRAM-SHA-256", "", "SCRAM-SHA-512"} {
		mechanism, err := saslMechanism(name, "user", "pass")
		require.NoError(t, err)
		require.NotNil(t, mechanism)
	}
}

func TestSASLMechanismRejectsUnknownName(t *testing.T) {
	_, err := saslMechanism("GSSAPI", "user", "pass")
	require.Error(t, err)
}
