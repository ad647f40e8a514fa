package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectionNamesMatchSpec(t *testing.T) {
	require.Equal(t, "TruckRideLog", CollectionTruckRideLog)
	require.Equal(t, "Sensors", CollectionSensors)
	require.Equal(t, "Loads", CollectionLoads)
	require.Equal(t, "Alerts", CollectionAlerts)
}
