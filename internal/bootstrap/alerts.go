package bootstrap

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/quinta-fleet/tirewatch/internal/store"
)

// identityKey is the (vehicleId, licensePlateNumber, realPosition)
// triple used to look up each tire's latest Sensors/Loads snapshot.
// Deduplication uses a separate tire-grained key (see GetInitialAlerts).
type identityKey struct {
	vehicleID string
	plate     string
	realPos   interface{}
}

// GetInitialAlerts implements GET /init/alerts.
//
// This endpoint reconciles against two different identity keys, and
// that mismatch is intentional, not a bug, so it is preserved and
// documented here rather than "fixed": an alert is deduplicated by
// (vehicleId, tireId, type, name, realPosition) — tire-grained — but
// whether it is still "live" is decided by (vehicleId,
// licensePlateNumber, realPosition, type, name) against the latest
// Sensors/Loads document — which has no tireId at all. A tire-specific
// alert can therefore survive reconciliation as long as *some* alert
// of the same type/name is still embedded in the vehicle's latest
// snapshot at that position, even if it was a different tire's alert
// that kept it alive. Closing the gap would require tireId on every
// Sensors/Loads document, which the ingestion pipeline does not carry
// through consistently enough to rely on.
func (s *Service) GetInitialAlerts(ctx context.Context, f Filter) ([]map[string]interface{}, error) {
	plates, unrestricted, err := s.resolvePlates(ctx, f)
	if err != nil {
		return nil, err
	}
	if emptyResultForRestrictedFilter(unrestricted, plates) {
		return []map[string]interface{}{}, nil
	}

	filter := map[string]interface{}{
		"licensePlateNumber": bson.M{"$ne": nil},
		"status":             "open",
	}
	switch {
	case f.LicensePlateNumber != "":
		filter["licensePlateNumber"] = f.LicensePlateNumber
	case len(plates) > 0:
		filter["licensePlateNumber"] = bson.M{"$in": plates}
	}

	var alertsFromDB []map[string]interface{}
	sort := map[string]interface{}{"receiveTime": -1}
	if err := s.store.Find(ctx, store.CollectionAlerts, filter, sort, MaxAlerts, &alertsFromDB); err != nil {
		return nil, fmt.Errorf("bootstrap: find open alerts: %w", err)
	}

	identities := make(map[identityKey]struct{})
	for _, a := range alertsFromDB {
		identities[identityKeyOf(a)] = struct{}{}
	}

	latestSensors, err := s.latestDocuments(ctx, store.CollectionSensors, identities, "receiveTime")
	if err != nil {
		return nil, err
	}
	latestLoads, err := s.latestDocuments(ctx, store.CollectionLoads, identities, "calculateTime")
	if err != nil {
		return nil, err
	}

	activeAlertKeys := make(map[string]struct{})
	collectActiveKeys(latestSensors, activeAlertKeys)
	collectActiveKeys(latestLoads, activeAlertKeys)

	final := make([]map[string]interface{}, 0, len(alertsFromDB))
	seen := make(map[string]struct{})

	for _, a := range alertsFromDB {
		vehicleID, _ := a["vehicleId"].(string)
		plate, _ := a["licensePlateNumber"].(string)
		realPosition := a["realPosition"]
		alertType, _ := a["type"].(string)
		alertName, _ := a["name"].(string)
		tireID, _ := a["tireId"].(string)

		dedupKey := fmt.Sprintf("%s|%s|%s|%s|%v", vehicleID, tireID, alertType, alertName, realPosition)
		if _, ok := seen[dedupKey]; ok {
			continue
		}
		seen[dedupKey] = struct{}{}

		livenessKey := fmt.Sprintf("%s|%s|%v|%s|%s", vehicleID, plate, realPosition, alertType, alertName)
		if _, live := activeAlertKeys[livenessKey]; !live {
			if id, ok := a["_id"]; ok {
				_ = s.closeAlertByID(ctx, id)
			}
			continue
		}

		final = append(final, map[string]interface{}{
			"type":               alertType,
			"name":               alertName,
			"value":              a["value"],
			"tireId":             tireID,
			"licensePlateNumber": plate,
			"vehicleId":          vehicleID,
			"realPosition":       realPosition,
			"receiveTime":        a["receiveTime"],
			"unitIdentifier":     a["unitIdentifier"],
			"status":             "open",
			"folio":              a["folio"],
		})
	}

	return final, nil
}

func identityKeyOf(a map[string]interface{}) identityKey {
	vehicleID, _ := a["vehicleId"].(string)
	plate, _ := a["licensePlateNumber"].(string)
	return identityKey{vehicleID: vehicleID, plate: plate, realPos: a["realPosition"]}
}

// latestDocuments returns, for each distinct identity, the most recent
// document in collection matching it, keyed by the same
// "vehicleId|plate|realPosition" string used by collectActiveKeys.
func (s *Service) latestDocuments(ctx context.Context, collection string, identities map[identityKey]struct{}, timeField string) (map[string]map[string]interface{}, error) {
	if len(identities) == 0 {
		return map[string]map[string]interface{}{}, nil
	}

	or := make(bson.A, 0, len(identities))
	for id := range identities {
		if id.vehicleID == "" || id.plate == "" || id.realPos == nil {
			continue
		}
		or = append(or, bson.M{
			"vehicleId":          id.vehicleID,
			"licensePlateNumber": id.plate,
			"realPosition":       id.realPos,
		})
	}
	if len(or) == 0 {
		return map[string]map[string]interface{}{}, nil
	}

	pipeline := bson.A{
		bson.M{"$match": bson.M{"$or": or}},
		bson.M{"$sort": bson.D{{Key: timeField, Value: -1}}},
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

	var docs []map[string]interface{}
	if err := s.store.Aggregate(ctx, collection, pipeline, &docs); err != nil {
		return nil, fmt.Errorf("bootstrap: latest documents in %s: %w", collection, err)
	}

	out := make(map[string]map[string]interface{}, len(docs))
	for _, d := range docs {
		key := fmt.Sprintf("%v|%v|%v", d["vehicleId"], d["licensePlateNumber"], d["realPosition"])
		out[key] = d
	}
	return out, nil
}

// collectActiveKeys folds every document's embedded "alerts" array
// into a set of "vehicleId|plate|realPosition|type|name" keys.
func collectActiveKeys(docs map[string]map[string]interface{}, into map[string]struct{}) {
	for key, doc := range docs {
		embedded, _ := doc["alerts"].([]interface{})
		for _, raw := range embedded {
			embeddedAlert, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			alertType, _ := embeddedAlert["type"].(string)
			alertName, _ := embeddedAlert["name"].(string)
			if alertType == "" || alertName == "" {
				continue
			}
			into[fmt.Sprintf("%s|%s|%s", key, alertType, alertName)] = struct{}{}
		}
	}
}

func (s *Service) closeAlertByID(ctx context.Context, id interface{}) error {
	return s.store.Upsert(ctx, store.CollectionAlerts, map[string]interface{}{"_id": id}, map[string]interface{}{"status": "closed"})
}
