// Package handlers implements C6: the per-topic message handlers that
// reassign trailer ownership, resolve tire position, enrich, convert
// units, evaluate alert thresholds, persist and broadcast every GPS,
// sensor and load message. Grounded on the original's
// app/api/kafka_consumer.py.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quinta-fleet/tirewatch/internal/cache"
	"github.com/quinta-fleet/tirewatch/internal/domain"
	"github.com/quinta-fleet/tirewatch/internal/fleetlog"
	"github.com/quinta-fleet/tirewatch/internal/position"
	"github.com/quinta-fleet/tirewatch/internal/store"
	"github.com/quinta-fleet/tirewatch/internal/tireapi"
)

const enrichmentCacheTTL = 60 * time.Second

// CatalogReader is the subset of C1 the handlers need.
type CatalogReader interface {
	position.LayoutSource
	EnrichmentStatus(ctx context.Context, plate string) (status, unitIdentifier, unitType string, found bool, err error)
	UnitIDForTire(ctx context.Context, tyreCode string) (unitID string, ok bool, err error)
}

// TireSummaryReader is the subset of C2 the handlers need.
type TireSummaryReader interface {
	TiresInfoByVehicle(ctx context.Context, vehicleID string) (*tireapi.VehicleTireSummary, error)
}

// Broadcaster is the subset of C8 the handlers need.
type Broadcaster interface {
	Broadcast(ctx context.Context, stream, message string)
}

// DocumentStore is the subset of C3 the handlers need.
type DocumentStore interface {
	Upsert(ctx context.Context, collection string, filter, doc map[string]interface{}) error
	CloseOpenAlert(ctx context.Context, filter map[string]interface{}) (bool, error)
}

// Handlers wires C1/C2/C3/C4/C5/C8 together into the three message
// handlers that the bus consumer (C7) and ingress bridge (C10) call.
type Handlers struct {
	catalog   CatalogReader
	tireAPI   TireSummaryReader
	store     DocumentStore
	resolver  *position.Resolver
	hub       Broadcaster
	enrichLog *fleetlog.VehicleRouter

	enrichCache *cache.TTLCache[string, domain.EnrichmentFields]
}

func New(catalog CatalogReader, tireAPI TireSummaryReader, st DocumentStore, resolver *position.Resolver, hub Broadcaster, logs *fleetlog.VehicleRouter) *Handlers {
	return &Handlers{
		catalog:     catalog,
		tireAPI:     tireAPI,
		store:       st,
		resolver:    resolver,
		hub:         hub,
		enrichLog:   logs,
		enrichCache: cache.New[string, domain.EnrichmentFields](enrichmentCacheTTL),
	}
}

// SweepEnrichmentCache evicts expired enrichment entries; called
// periodically by the scheduler (spec.md §4.4).
func (h *Handlers) SweepEnrichmentCache() int {
	return h.enrichCache.Sweep()
}

// enrich resolves and caches the catalog+tire-API enrichment fields for
// a plate, mirroring get_vehicle_data's 60s cache keyed by plate (the
// original keys the whole cache entry by license_plate even though
// part of the payload depends on vehicleID, so a cache hit short-
// circuits the tire-API call too; this is preserved here).
func (h *Handlers) enrich(ctx context.Context, plate, vehicleID string) domain.EnrichmentFields {
	fields, err := h.enrichCache.GetOrLoad(plate, func() (domain.EnrichmentFields, error) {
		var f domain.EnrichmentFields

		// The catalog status lookup and the vendor tire-API summary
		// lookup are independent network calls; running them
		// concurrently keeps a cache miss from paying both latencies
		// back to back.
		g, gctx := errgroup.WithContext(ctx)

		if plate != "" {
			g.Go(func() error {
				status, unitIdentifier, unitType, found, err := h.catalog.EnrichmentStatus(gctx, plate)
				if err != nil {
					fleetlog.Errorf("catalog enrichment lookup failed for %q: %v", plate, err)
					f.UnitStatus, f.UnitIdentifier, f.UnitType = "ERROR", "ERROR", "ERROR"
					return nil
				}
				if found {
					f.UnitStatus, f.UnitIdentifier, f.UnitType = status, unitIdentifier, unitType
				}
				return nil
			})
		}

		if vehicleID != "" {
			g.Go(func() error {
				summary, err := h.tireAPI.TiresInfoByVehicle(gctx, vehicleID)
				if err != nil {
					fleetlog.Errorf("tire API enrichment lookup failed for vehicle %q: %v", vehicleID, err)
					return nil
				}
				if summary != nil {
					f.LatestDataTime = summary.LatestDataTime
					f.LoadData = summary.LoadData
					f.OrgID = summary.OrgID
					f.TotalMileage = summary.TotalMileage
					f.TractorName = summary.TractorName
				}
				return nil
			})
		}

		_ = g.Wait()
		return f, nil
	})
	if err != nil {
		// GetOrLoad's load func above never returns an error; this is
		// unreachable but kept so enrich's signature stays simple.
		return domain.EnrichmentFields{}
	}
	return fields
}

func (h *Handlers) broadcast(ctx context.Context, stream string, event domain.Event) {
	clean := event.Clone()
	delete(clean, "_id")

	payload, err := json.Marshal(clean)
	if err != nil {
		fleetlog.Errorf("marshal event for broadcast on %s: %v", stream, err)
		return
	}
	h.hub.Broadcast(ctx, stream, string(payload))
}

// HandleGPS implements spec.md §4.6's GPS path: enrichment, primary
// upsert into TruckRideLog, gps_timeout recovery, and broadcast. Does
// NOT implement the trailer dual-dispatch fan-out — that is the bus
// consumer's (C7) responsibility, since it needs to run this handler
// twice with independently cloned events.
func (h *Handlers) HandleGPS(ctx context.Context, event domain.Event) error {
	plate := event.LicensePlateNumber()
	vehicleID := event.VehicleID()
	receiveTime := event.ReceiveTime()
	log := h.enrichLog.For(plate)
	log.Infof("received GPS message: %v", map[string]interface{}(event))

	event.Merge(h.enrich(ctx, plate, vehicleID))

	filter := map[string]interface{}{"vehicleId": vehicleID, "receiveTime": receiveTime}
	if err := h.store.Upsert(ctx, store.CollectionTruckRideLog, filter, event); err != nil {
		return fmt.Errorf("handlers: upsert TruckRideLog: %w", err)
	}
	log.Infof("upserted into TruckRideLog")

	if vehicleID != "" {
		closed, err := h.store.CloseOpenAlert(ctx, map[string]interface{}{
			"vehicleId": vehicleID,
			"type":      "gps",
			"name":      "gps_timeout",
			"status":    "open",
		})
		if err != nil {
			fleetlog.Errorf("closing gps_timeout alert for vehicle %q: %v", vehicleID, err)
		} else if closed {
			log.Infof("closed gps_timeout alert for vehicleId %s", vehicleID)
		}
	}

	h.broadcast(ctx, domain.TopicGPS, event)
	return nil
}

// HandleSensor implements spec.md §4.6's sensor path: trailer swap
// reassignment, position resolution, enrichment, PSI->bar conversion,
// threshold evaluation, alert persistence+broadcast, primary upsert
// and broadcast.
func (h *Handlers) HandleSensor(ctx context.Context, event domain.Event) error {
	h.reassignTrailerSensor(ctx, event)

	axle, hasAxle := event.AxleIndex()
	wheel, hasWheel := event.WheelIndex()
	plate := event.LicensePlateNumber()
	vehicleID := event.VehicleID()
	tyreID := event.TyreID()
	receiveTime := event.ReceiveTime()

	log := h.enrichLog.For(plate)
	log.Infof("received sensor message: %v", map[string]interface{}(event))

	if hasAxle && axle != 0 && hasWheel && wheel != 0 && plate != "" {
		if pos, ok := h.resolver.Resolve(ctx, plate, axle, wheel); ok {
			event["realPosition"] = pos
			if note := position.SpareNote(pos); note != "" {
				event["spareTireNote"] = note
			}
			log.Infof("real position calculated: %d", pos)
		}
	}

	event.Merge(h.enrich(ctx, plate, vehicleID))

	var pressureBar, temperature *float64
	if p, ok := event.Pressure(); ok {
		bar := domain.PSIToBar(p)
		event["pressure"] = bar
		pressureBar = &bar
	}
	if t, ok := event.Temperature(); ok {
		temperature = &t
	}

	alerts := domain.EvaluateSensor(pressureBar, temperature, tyreID)
	if len(alerts) > 0 {
		event["alerts"] = alertsAsMaps(alerts)
		h.persistAndBroadcastAlerts(ctx, event, alerts, plate, vehicleID, receiveTime, log)
	}

	filter := map[string]interface{}{"vehicleId": vehicleID, "tyreId": tyreID, "receiveTime": receiveTime}
	if err := h.store.Upsert(ctx, store.CollectionSensors, filter, event); err != nil {
		return fmt.Errorf("handlers: upsert Sensors: %w", err)
	}
	log.Infof("upserted into Sensors")

	h.broadcast(ctx, domain.TopicSensor, event)
	return nil
}

// HandleLoad implements spec.md §4.6's load path: unit-id reassignment,
// position resolution, enrichment, depth-threshold evaluation, alert
// persistence+broadcast, primary upsert and broadcast.
func (h *Handlers) HandleLoad(ctx context.Context, event domain.Event) error {
	h.reassignUnitIDLoad(ctx, event)

	axle, hasAxle := event.AxleIndex()
	wheel, hasWheel := event.WheelIndex()
	plate := event.LicensePlateNumber()
	vehicleID := event.VehicleID()
	tyreID := event.TyreID()
	calculateTime := event.CalculateTime()

	log := h.enrichLog.For(plate)
	log.Infof("received load message: %v", map[string]interface{}(event))

	if hasAxle && axle != 0 && hasWheel && wheel != 0 && plate != "" {
		if pos, ok := h.resolver.Resolve(ctx, plate, axle, wheel); ok {
			event["realPosition"] = pos
			if note := position.SpareNote(pos); note != "" {
				event["spareTireNote"] = note
			}
			log.Infof("real position (load) calculated: %d", pos)
		}
	}

	event.Merge(h.enrich(ctx, plate, vehicleID))

	var depth *float64
	if d, ok := event.NowThreadDepth(); ok {
		depth = &d
	}

	alerts := domain.EvaluateLoad(depth, tyreID)
	if len(alerts) > 0 {
		event["alerts"] = alertsAsMaps(alerts)
		h.persistAndBroadcastAlerts(ctx, event, alerts, plate, vehicleID, event.ReceiveTime(), log)
	}

	filter := map[string]interface{}{"vehicleId": vehicleID, "tyreId": tyreID, "calculateTime": calculateTime}
	if err := h.store.Upsert(ctx, store.CollectionLoads, filter, event); err != nil {
		return fmt.Errorf("handlers: upsert Loads: %w", err)
	}
	log.Infof("upserted into Loads")

	h.broadcast(ctx, domain.TopicLoad, event)
	return nil
}

// reassignTrailerSensor swaps licensePlateNumber<->trailerLicensePlateNumber
// when the tyre is bound to the trailer unit, mirroring
// handle_sensor_message's swap block.
func (h *Handlers) reassignTrailerSensor(ctx context.Context, event domain.Event) {
	tyreCode := event.TyreCode()
	trailer := event.TrailerLicensePlateNumber()
	if tyreCode == "" || trailer == "" {
		return
	}

	unitID, ok, err := h.catalog.UnitIDForTire(ctx, tyreCode)
	if err != nil {
		fleetlog.Errorf("looking up unit for tyre %q: %v", tyreCode, err)
		return
	}
	if !ok || unitID != trailer {
		return
	}

	event["tractorName"] = event.LicensePlateNumber()
	event.SetLicensePlateNumber(trailer)
	delete(event, "trailerLicensePlateNumber")
}

// reassignUnitIDLoad swaps licensePlateNumber to the tyre's bound unit
// when it differs, mirroring handle_load_message's swap block (no
// trailer-field involved on the load path).
func (h *Handlers) reassignUnitIDLoad(ctx context.Context, event domain.Event) {
	tyreCode := event.TyreCode()
	if tyreCode == "" {
		return
	}

	plate := event.LicensePlateNumber()
	unitID, ok, err := h.catalog.UnitIDForTire(ctx, tyreCode)
	if err != nil {
		fleetlog.Errorf("looking up unit for tyre %q: %v", tyreCode, err)
		return
	}
	if !ok || unitID == plate {
		return
	}

	event["tractorName"] = plate
	event.SetLicensePlateNumber(unitID)
}

func alertsAsMaps(alerts []domain.AlertCandidate) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, map[string]interface{}{
			"type":   a.Type,
			"name":   a.Name,
			"value":  a.Value,
			"tireId": a.TireID,
		})
	}
	return out
}

// persistAndBroadcastAlerts upserts each candidate as an open alert and
// fans it out on the alerts stream, skipping (with a warning, like the
// original) any candidate for which the plate or unitIdentifier is
// missing.
func (h *Handlers) persistAndBroadcastAlerts(ctx context.Context, event domain.Event, alerts []domain.AlertCandidate, plate, vehicleID, receiveTime string, log interface{ Warnf(string, ...interface{}) }) {
	unitIdentifier := event.UnitIdentifier()

	var realPosition *int
	if rp, ok := event["realPosition"].(int); ok {
		realPosition = &rp
	}

	for _, alert := range alerts {
		if plate == "" || unitIdentifier == "" {
			log.Warnf("alert not created due to missing licensePlateNumber or unitIdentifier: %s, %s", plate, unitIdentifier)
			continue
		}

		doc := domain.AlertDoc{
			Folio:              domain.NewFolio(),
			Status:             "open",
			Type:               alert.Type,
			Name:               alert.Name,
			Value:              alert.Value,
			TireID:             alert.TireID,
			LicensePlateNumber: plate,
			VehicleID:          vehicleID,
			RealPosition:       realPosition,
			ReceiveTime:        receiveTime,
			UnitIdentifier:     unitIdentifier,
			UnitType:           event.UnitType(),
		}

		filter := domain.OpenAlertFilter(vehicleID, alert.TireID, alert.Type, alert.Name)
		docMap, err := toMap(doc)
		if err != nil {
			fleetlog.Errorf("encoding alert doc: %v", err)
			continue
		}

		if err := h.store.Upsert(ctx, store.CollectionAlerts, filter, docMap); err != nil {
			fleetlog.Errorf("upserting alert: %v", err)
			continue
		}

		payload, err := json.Marshal(doc)
		if err != nil {
			fleetlog.Errorf("marshal alert doc: %v", err)
			continue
		}
		h.hub.Broadcast(ctx, domain.TopicAlerts, string(payload))
	}
}

func toMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
