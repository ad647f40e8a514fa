package domain

import (
	"github.com/google/uuid"
)

// Alert thresholds, spec.md §3.
const (
	lowPressureBar   = 90.0
	highPressureBar  = 135.0
	highTemperatureC = 95.0
	lowDepthMM       = 3.0
	gpsTimeoutMin    = 30
)

// AlertCandidate is a raised-but-not-yet-persisted alert, produced by
// threshold evaluation (spec.md §4.6 step 5).
type AlertCandidate struct {
	Type  string
	Name  string
	Value float64
	// TireID is empty for vehicle-wide alerts such as gps_timeout.
	TireID string
}

// EvaluateSensor returns the ordered list of alerts raised by a
// (pressure bar, temperature C) reading, per the §3 trigger table.
// pressureBar must already be PSI->bar converted.
func EvaluateSensor(pressureBar *float64, temperature *float64, tireID string) []AlertCandidate {
	var alerts []AlertCandidate

	if pressureBar != nil {
		switch {
		case *pressureBar < lowPressureBar:
			alerts = append(alerts, AlertCandidate{Type: "pressure", Name: "low_pressure", Value: *pressureBar, TireID: tireID})
		case *pressureBar > highPressureBar:
			alerts = append(alerts, AlertCandidate{Type: "pressure", Name: "high_pressure", Value: *pressureBar, TireID: tireID})
		}
	}

	if temperature != nil && *temperature > highTemperatureC {
		alerts = append(alerts, AlertCandidate{Type: "temperature", Name: "high_temperature", Value: *temperature, TireID: tireID})
	}

	return alerts
}

// EvaluateLoad returns the alerts raised by a tread-depth reading.
func EvaluateLoad(nowThreadDepth *float64, tireID string) []AlertCandidate {
	if nowThreadDepth != nil && *nowThreadDepth < lowDepthMM {
		return []AlertCandidate{{Type: "depth", Name: "low_depth", Value: *nowThreadDepth, TireID: tireID}}
	}
	return nil
}

// GPSTimeoutExceeded returns true if the given elapsed-minutes value
// crosses the gps_timeout threshold.
func GPSTimeoutExceeded(minutesSinceReport int) bool {
	return minutesSinceReport > gpsTimeoutMin
}

// NewFolio returns a short, user-visible alert identifier: the first 8
// hex characters of a v4 UUID (spec.md §4.6 step 6, mirroring the
// original's str(uuid.uuid4())[:8]).
func NewFolio() string {
	return uuid.New().String()[:8]
}

// AlertDoc is the persisted/broadcast shape of an alert (spec.md §3).
type AlertDoc struct {
	Folio              string      `bson:"folio" json:"folio"`
	Status             string      `bson:"status" json:"status"`
	Type               string      `bson:"type" json:"type"`
	Name               string      `bson:"name" json:"name"`
	Value              float64     `bson:"value" json:"value"`
	TireID             string      `bson:"tireId,omitempty" json:"tireId,omitempty"`
	LicensePlateNumber string      `bson:"licensePlateNumber" json:"licensePlateNumber"`
	VehicleID          string      `bson:"vehicleId" json:"vehicleId"`
	RealPosition       *int        `bson:"realPosition,omitempty" json:"realPosition,omitempty"`
	ReceiveTime        string      `bson:"receiveTime,omitempty" json:"receiveTime,omitempty"`
	UnitIdentifier     string      `bson:"unitIdentifier,omitempty" json:"unitIdentifier,omitempty"`
	UnitType           string      `bson:"unitType,omitempty" json:"unitType,omitempty"`
	CompanyID          *int        `bson:"companyId,omitempty" json:"companyId,omitempty"`
}

// OpenAlertFilter returns the compound filter that enforces invariant
// §3.1: at most one open alert per (vehicleId, tireId, type, name), or
// per (vehicleId, type, name) for vehicle-wide alerts such as
// gps_timeout, whose TireID is always empty.
func OpenAlertFilter(vehicleID, tireID, alertType, name string) map[string]interface{} {
	return map[string]interface{}{
		"vehicleId": vehicleID,
		"tireId":    tireID,
		"type":      alertType,
		"name":      name,
		"status":    "open",
	}
}
