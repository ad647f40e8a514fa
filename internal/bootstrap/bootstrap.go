// Package bootstrap implements C9: the /init/* snapshot endpoints that
// back a freshly connected client before it starts receiving live
// broadcasts. Grounded on the original's app/api/init_endpoints.py.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/quinta-fleet/tirewatch/internal/domain"
	"github.com/quinta-fleet/tirewatch/internal/fleetlog"
	"github.com/quinta-fleet/tirewatch/internal/store"
)

// MaxAlerts bounds the /init/alerts response, mirroring the original's
// MAX_ALERTS constant.
const MaxAlerts = 500

// timeWindows, in days, tried in order until a window yields data
// (spec.md §4.9's adaptive expansion).
var timeWindows = []int{5, 15, 30, 60, 90, 365}

const gpsTimeoutMinutes = 30

// Broadcaster is the subset of C8 the delayed GPS-timeout broadcast
// needs.
type Broadcaster interface {
	Broadcast(ctx context.Context, stream, message string)
}

// PlateLister is the subset of C1 needed to resolve a company's
// allowed plates when a caller supplies cid but no explicit plate/pn
// filter.
type PlateLister interface {
	PlatesForCompany(ctx context.Context, companyID int) ([]string, error)
}

// DocumentAccessor is the subset of C3 the bootstrap endpoints need.
type DocumentAccessor interface {
	Aggregate(ctx context.Context, collection string, pipeline interface{}, out interface{}) error
	Upsert(ctx context.Context, collection string, filter, doc map[string]interface{}) error
	Find(ctx context.Context, collection string, filter map[string]interface{}, sort map[string]interface{}, limit int64, out interface{}) error
}

type Service struct {
	store   DocumentAccessor
	hub     Broadcaster
	catalog PlateLister
}

func New(st DocumentAccessor, hub Broadcaster, catalog PlateLister) *Service {
	return &Service{store: st, hub: hub, catalog: catalog}
}

// Filter is the resolved (cid, licensePlateNumber, pn) query the HTTP
// layer decodes from query parameters.
type Filter struct {
	CID                int
	HasCID             bool
	LicensePlateNumber string
	PN                 []string
}

// resolvePlates implements the cid==2-privileged / explicit-plate /
// company-lookup / pn three-way branch shared by every /init/*
// endpoint.
func (s *Service) resolvePlates(ctx context.Context, f Filter) (plates []string, unrestricted bool, err error) {
	if f.HasCID && f.CID == hub2Privileged {
		return nil, true, nil
	}
	if f.HasCID && f.LicensePlateNumber == "" && len(f.PN) == 0 {
		plates, err = s.catalog.PlatesForCompany(ctx, f.CID)
		return plates, false, err
	}
	return f.PN, false, nil
}

const hub2Privileged = 2

// emptyResultForRestrictedFilter reports whether the resolved plate
// list is restrictive-but-empty, in which case every /init/* endpoint
// short-circuits to an empty list without querying Mongo at all.
func emptyResultForRestrictedFilter(unrestricted bool, plates []string) bool {
	return !unrestricted && plates != nil && len(plates) == 0
}

func cleanSurrogates(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if r == utf8.RuneError {
			b.WriteByte('?')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func cleanEntry(entry map[string]interface{}) map[string]interface{} {
	delete(entry, "_id")
	entry["source"] = "initial"
	for k, v := range entry {
		if s, ok := v.(string); ok {
			entry[k] = cleanSurrogates(s)
		}
	}
	return entry
}

func matchFilter(timeField string, limitDate time.Time, licensePlateNumber string, plates []string) bson.M {
	match := bson.M{timeField: bson.M{"$gte": limitDate.UTC().Format(time.RFC3339)}}
	switch {
	case licensePlateNumber != "":
		match["licensePlateNumber"] = strings.TrimSpace(licensePlateNumber)
	case len(plates) > 0:
		match["licensePlateNumber"] = bson.M{"$in": plates}
	}
	return match
}

// simpleExpansion runs get_initial_data_with_expansion: widen the time
// window until any window returns at least one document whose plate
// field is non-empty, then stop.
func (s *Service) simpleExpansion(ctx context.Context, collection string, buildPipeline func(limitDate time.Time) bson.A) ([]map[string]interface{}, error) {
	for _, days := range timeWindows {
		limitDate := time.Now().UTC().AddDate(0, 0, -days)
		pipeline := buildPipeline(limitDate)

		fleetlog.Infof("executing search for the last %d days", days)

		var entries []map[string]interface{}
		if err := s.store.Aggregate(ctx, collection, pipeline, &entries); err != nil {
			return nil, fmt.Errorf("bootstrap: aggregate %s: %w", collection, err)
		}

		filtered := make([]map[string]interface{}, 0, len(entries))
		for _, e := range entries {
			if plate, _ := e["licensePlateNumber"].(string); plate != "" {
				filtered = append(filtered, cleanEntry(e))
			}
		}
		if len(filtered) > 0 {
			fleetlog.Infof("data found in the last %d days, total documents: %d", days, len(filtered))
			return filtered, nil
		}
	}

	fleetlog.Warnf("no useful documents found in any time window up to %d days", timeWindows[len(timeWindows)-1])
	return []map[string]interface{}{}, nil
}

// exhaustiveExpansion runs get_initial_data_with_expansion_exhaustive:
// unlike simpleExpansion, it accumulates results across windows rather
// than stopping at the first hit, narrowing the search to plates not
// yet found (either the explicit target set, or — if none was given —
// every plate not yet seen, via $nin) as windows widen.
func (s *Service) exhaustiveExpansion(ctx context.Context, collection string, explicitPlates []string, restrictedToExplicit bool, buildPipeline func(limitDate time.Time, plates []string) bson.A) ([]map[string]interface{}, error) {
	found := make(map[string]map[string]interface{})

	var remaining map[string]struct{}
	if restrictedToExplicit {
		remaining = make(map[string]struct{}, len(explicitPlates))
		for _, p := range explicitPlates {
			remaining[p] = struct{}{}
		}
	}

	for _, days := range timeWindows {
		if restrictedToExplicit && len(remaining) == 0 {
			fleetlog.Info("all target plates found, stopping search")
			break
		}

		limitDate := time.Now().UTC().AddDate(0, 0, -days)

		var targetPlates []string
		if restrictedToExplicit {
			targetPlates = make([]string, 0, len(remaining))
			for p := range remaining {
				targetPlates = append(targetPlates, p)
			}
		}

		pipeline := buildPipeline(limitDate, targetPlates)

		if !restrictedToExplicit && len(found) > 0 {
			already := make([]string, 0, len(found))
			for p := range found {
				already = append(already, p)
			}
			pipeline = prependNinMatch(pipeline, "licensePlateNumber", already)
		}

		var entries []map[string]interface{}
		if err := s.store.Aggregate(ctx, collection, pipeline, &entries); err != nil {
			fleetlog.Errorf("aggregation error for last %d days: %v", days, err)
			continue
		}

		for _, e := range entries {
			plate, _ := e["licensePlateNumber"].(string)
			if plate == "" {
				continue
			}
			if _, already := found[plate]; already {
				continue
			}
			found[plate] = cleanEntry(e)
			if restrictedToExplicit {
				delete(remaining, plate)
			}
		}
	}

	out := make([]map[string]interface{}, 0, len(found))
	for _, v := range found {
		out = append(out, v)
	}
	if len(out) == 0 {
		fleetlog.Warnf("no useful documents found in any time window up to %d days", timeWindows[len(timeWindows)-1])
	}
	return out, nil
}

func prependNinMatch(pipeline bson.A, field string, exclude []string) bson.A {
	if len(pipeline) == 0 {
		return bson.A{bson.M{"$match": bson.M{field: bson.M{"$nin": exclude}}}}
	}
	first, ok := pipeline[0].(bson.M)
	if !ok {
		return append(bson.A{bson.M{"$match": bson.M{field: bson.M{"$nin": exclude}}}}, pipeline...)
	}
	match, ok := first["$match"].(bson.M)
	if !ok {
		return append(bson.A{bson.M{"$match": bson.M{field: bson.M{"$nin": exclude}}}}, pipeline...)
	}
	match[field] = bson.M{"$nin": exclude}
	return pipeline
}

// minutesSinceReport parses an RFC3339 receiveTime and returns the
// whole minutes elapsed since then.
func minutesSinceReport(receiveTime string) (int, bool) {
	t, err := time.Parse(time.RFC3339, receiveTime)
	if err != nil {
		fleetlog.Warnf("gps timeout: cannot parse receiveTime %q: %v", receiveTime, err)
		return 0, false
	}
	return int(time.Now().UTC().Sub(t).Minutes()), true
}

// GetInitialGPS implements GET /init/gps: exhaustive per-plate
// expansion over TruckRideLog, synthesizing a gps_timeout alert (and
// marking the snapshot "offline") for any plate whose last report
// exceeds the timeout, then returning every resolved plate's latest
// ride-log entry. Alerts raised this way are broadcast on a 3-second
// delay with 0.5s gaps between each (spec.md §4.9, §9) so that clients
// which just connected have time to finish their own handshake.
func (s *Service) GetInitialGPS(ctx context.Context, f Filter) ([]map[string]interface{}, error) {
	plates, unrestricted, err := s.resolvePlates(ctx, f)
	if err != nil {
		return nil, err
	}
	if emptyResultForRestrictedFilter(unrestricted, plates) {
		return []map[string]interface{}{}, nil
	}

	buildPipeline := func(limitDate time.Time, targetPlates []string) bson.A {
		match := matchFilter("receiveTime", limitDate, f.LicensePlateNumber, targetPlates)
		return bson.A{
			bson.M{"$match": match},
			bson.M{"$sort": bson.D{{Key: "licensePlateNumber", Value: 1}, {Key: "receiveTime", Value: -1}}},
			bson.M{"$group": bson.M{"_id": "$licensePlateNumber", "doc": bson.M{"$first": "$$ROOT"}}},
			bson.M{"$replaceRoot": bson.M{"newRoot": "$doc"}},
		}
	}

	restrictedToExplicit := f.LicensePlateNumber != "" || (!unrestricted && len(plates) > 0)
	explicitTargets := plates
	if f.LicensePlateNumber != "" {
		explicitTargets = []string{f.LicensePlateNumber}
	}

	results, err := s.exhaustiveExpansion(ctx, store.CollectionTruckRideLog, explicitTargets, restrictedToExplicit, buildPipeline)
	if err != nil {
		return nil, err
	}

	var toBroadcast []map[string]interface{}
	for _, r := range results {
		receiveTime, _ := r["receiveTime"].(string)
		minutes, ok := minutesSinceReport(receiveTime)
		if !ok || minutes <= gpsTimeoutMinutes {
			continue
		}

		r["unitStatus"] = "offline"
		r["spkm"] = 0

		plate, _ := r["licensePlateNumber"].(string)
		vehicleID, _ := r["vehicleId"].(string)

		alertDoc := domain.AlertDoc{
			Folio:              domain.NewFolio(),
			Status:             "open",
			Type:               "gps",
			Name:               "gps_timeout",
			Value:              float64(minutes),
			LicensePlateNumber: plate,
			VehicleID:          vehicleID,
			ReceiveTime:        receiveTime,
			UnitIdentifier:     strFrom(r["unitIdentifier"]),
		}
		if f.HasCID {
			cid := f.CID
			alertDoc.CompanyID = &cid
		}

		filter := map[string]interface{}{
			"vehicleId": vehicleID,
			"type":      "gps",
			"name":      "gps_timeout",
			"status":    "open",
		}
		docMap, merr := toMap(alertDoc)
		if merr != nil {
			fleetlog.Errorf("encoding gps_timeout alert: %v", merr)
			continue
		}
		if err := s.store.Upsert(ctx, store.CollectionAlerts, filter, docMap); err != nil {
			fleetlog.Errorf("upserting gps_timeout alert for %q: %v", plate, err)
			continue
		}

		toBroadcast = append(toBroadcast, docMap)
		fleetlog.Infof("gps timeout alert generated for plate %s; broadcast delayed", plate)
	}

	if len(toBroadcast) > 0 {
		go s.delayedBroadcast(context.WithoutCancel(ctx), toBroadcast)
	}

	return results, nil
}

// delayedBroadcast waits 3 seconds, then broadcasts each alert on the
// alerts stream with a 0.5-second gap, skipping any alert missing
// unitIdentifier (mirrors delayed_broadcast).
func (s *Service) delayedBroadcast(ctx context.Context, alerts []map[string]interface{}) {
	time.Sleep(3 * time.Second)
	for _, alert := range alerts {
		if strFrom(alert["unitIdentifier"]) == "" {
			fleetlog.Warnf("delayed gps timeout alert for plate %v not broadcast: missing unitIdentifier", alert["licensePlateNumber"])
			continue
		}
		payload, err := marshalJSON(alert)
		if err != nil {
			fleetlog.Errorf("marshal delayed alert: %v", err)
			continue
		}
		s.hub.Broadcast(ctx, domain.TopicAlerts, payload)
		fleetlog.Infof("delayed gps timeout alert broadcast for plate %v", alert["licensePlateNumber"])
		time.Sleep(500 * time.Millisecond)
	}
}

// GetInitialSensor implements GET /init/sensor: simple expansion over
// Sensors, grouped to the latest reading per (vehicleId,
// licensePlateNumber, realPosition).
func (s *Service) GetInitialSensor(ctx context.Context, f Filter) ([]map[string]interface{}, error) {
	return s.simpleLatestPerPosition(ctx, store.CollectionSensors, "receiveTime", f)
}

// GetInitialLoad implements GET /init/load, identical to GetInitialSensor
// but keyed on calculateTime.
func (s *Service) GetInitialLoad(ctx context.Context, f Filter) ([]map[string]interface{}, error) {
	return s.simpleLatestPerPosition(ctx, store.CollectionLoads, "calculateTime", f)
}

func (s *Service) simpleLatestPerPosition(ctx context.Context, collection, timeField string, f Filter) ([]map[string]interface{}, error) {
	plates, unrestricted, err := s.resolvePlates(ctx, f)
	if err != nil {
		return nil, err
	}
	if emptyResultForRestrictedFilter(unrestricted, plates) {
		return []map[string]interface{}{}, nil
	}

	buildPipeline := func(limitDate time.Time) bson.A {
		match := matchFilter(timeField, limitDate, f.LicensePlateNumber, plates)
		return bson.A{
			bson.M{"$match": match},
			bson.M{"$sort": bson.D{
				{Key: "vehicleId", Value: 1},
				{Key: "licensePlateNumber", Value: 1},
				{Key: "realPosition", Value: 1},
				{Key: timeField, Value: -1},
			}},
			bson.M{"$group": bson.M{
				"_id": bson.M{
					"vehicleId":          "$vehicleId",
					"licensePlateNumber": "$licensePlateNumber",
					"realPosition":       "$realPosition",
				},
				"doc": bson.M{"$first": "$$ROOT"},
			}},
			bson.M{"$replaceRoot": bson.M{"newRoot": "$doc"}},
		}
	}

	return s.simpleExpansion(ctx, collection, buildPipeline)
}

func strFrom(v interface{}) string {
	s, _ := v.(string)
	return s
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

func marshalJSON(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
