// Package domain holds the vehicle-event and alert types shared by every
// stage of the ingest/enrichment/alerting pipeline (spec.md §3).
package domain

// Event is an inbound GPS, sensor or load message (spec.md §3),
// carried as a loosely-typed map through the pipeline so that unknown
// upstream fields survive round-tripping to storage and broadcast — the
// same behavior as the original's dict-based messages. Known fields are
// promoted to named accessors for the handlers that need them.
type Event map[string]interface{}

func (e Event) str(key string) string {
	v, _ := e[key].(string)
	return v
}

func (e Event) has(key string) bool {
	v, ok := e[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}

func (e Event) VehicleID() string                 { return e.str("vehicleId") }
func (e Event) LicensePlateNumber() string        { return e.str("licensePlateNumber") }
func (e Event) SetLicensePlateNumber(v string)    { e["licensePlateNumber"] = v }
func (e Event) TrailerLicensePlateNumber() string { return e.str("trailerLicensePlateNumber") }
func (e Event) HasTrailer() bool                  { return e.has("trailerLicensePlateNumber") }
func (e Event) ReceiveTime() string               { return e.str("receiveTime") }
func (e Event) CalculateTime() string             { return e.str("calculateTime") }
func (e Event) TyreCode() string                  { return e.str("tyreCode") }
func (e Event) TyreID() string                    { return e.str("tyreId") }
func (e Event) UnitIdentifier() string            { return e.str("unitIdentifier") }
func (e Event) UnitType() string                  { return e.str("unitType") }

// AxleIndex and WheelIndex return (value, ok): JSON numbers decode as
// float64 through encoding/json's default map[string]interface{}.
func (e Event) AxleIndex() (int, bool)  { return e.intField("axleIndex") }
func (e Event) WheelIndex() (int, bool) { return e.intField("wheelIndex") }

func (e Event) intField(key string) (int, bool) {
	v, ok := e[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func (e Event) floatField(key string) (float64, bool) {
	v, ok := e[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func (e Event) Pressure() (float64, bool)       { return e.floatField("pressure") }
func (e Event) Temperature() (float64, bool)    { return e.floatField("temperature") }
func (e Event) NowThreadDepth() (float64, bool) { return e.floatField("nowThreadDepth") }

// Clone performs a deep-enough copy for the dual-dispatch trailer path
// (spec.md §4.6, §9: "perform a full value copy before mutating the
// plate; never alias"). Nested maps/slices are copied one level deep,
// which is sufficient because inbound messages are flat JSON objects.
func (e Event) Clone() Event {
	out := make(Event, len(e))
	for k, v := range e {
		switch nested := v.(type) {
		case map[string]interface{}:
			m := make(map[string]interface{}, len(nested))
			for nk, nv := range nested {
				m[nk] = nv
			}
			out[k] = m
		case []interface{}:
			out[k] = append([]interface{}(nil), nested...)
		default:
			out[k] = v
		}
	}
	return out
}

// EnrichmentFields is the subset of an Event contributed by the
// enrichment cache (catalog + tire API), merged into an Event with
// Event.Merge.
type EnrichmentFields struct {
	UnitStatus     string      `json:"unitStatus,omitempty"`
	UnitIdentifier string      `json:"unitIdentifier,omitempty"`
	UnitType       string      `json:"unitType,omitempty"`
	LatestDataTime interface{} `json:"latestDataTime,omitempty"`
	LoadData       interface{} `json:"loadData,omitempty"`
	OrgID          interface{} `json:"orgId,omitempty"`
	TotalMileage   interface{} `json:"totalMileage,omitempty"`
	TractorName    string      `json:"tractorName,omitempty"`
}

// Merge overlays non-zero enrichment fields onto the event, mirroring
// the original's parsed.update(vehicle_data).
func (e Event) Merge(f EnrichmentFields) {
	if f.UnitStatus != "" {
		e["unitStatus"] = f.UnitStatus
	}
	if f.UnitIdentifier != "" {
		e["unitIdentifier"] = f.UnitIdentifier
	}
	if f.UnitType != "" {
		e["unitType"] = f.UnitType
	}
	if f.LatestDataTime != nil {
		e["latestDataTime"] = f.LatestDataTime
	}
	if f.LoadData != nil {
		e["loadData"] = f.LoadData
	}
	if f.OrgID != nil {
		e["orgId"] = f.OrgID
	}
	if f.TotalMileage != nil {
		e["totalMileage"] = f.TotalMileage
	}
	if f.TractorName != "" {
		e["tractorName"] = f.TractorName
	}
}

// Topic names, shared by the bus consumer (C7), the subscription hub
// (C8) and the ingress bridge (C10).
const (
	TopicGPS    = "topic-gps-218"
	TopicLoad   = "topic-load-218"
	TopicSensor = "topic-sensor-218"
	TopicAlerts = "alerts"
	TopicTest   = "test-stream"
)

// MessageKind classifies an inbound event by its carried fields, as
// determined by the ingress bridge's (C10) get_message_type heuristic.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindGPS
	KindSensor
	KindLoad
)

func (k MessageKind) String() string {
	switch k {
	case KindGPS:
		return "gps"
	case KindSensor:
		return "sensor"
	case KindLoad:
		return "load"
	default:
		return "unknown"
	}
}

// Classify implements spec.md §4.10's field-presence classifier.
func Classify(e Event) MessageKind {
	if e.has("latitude") && e.has("longitude") {
		return KindGPS
	}
	if e.has("pressure") && e.has("temperature") {
		return KindSensor
	}
	if e.has("nowThreadDepth") {
		return KindLoad
	}
	return KindUnknown
}
