// Package hub implements C8: the subscription hub that fans incoming
// messages out to WebSocket clients, grounded on the original's
// app/api/connection_manager.py.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/quinta-fleet/tirewatch/internal/cache"
	"github.com/quinta-fleet/tirewatch/internal/fleetlog"
)

const plateCacheTTL = 300 * time.Second

// PrivilegedCompanyID bypasses the per-company plate allow-list
// entirely (spec.md §4.8: "cid==2 is privileged and receives every
// plate unfiltered").
const PrivilegedCompanyID = 2

// Streams, spec.md §4.3/§4.8.
const (
	StreamGPS    = "topic-gps-218"
	StreamLoad   = "topic-load-218"
	StreamSensor = "topic-sensor-218"
	StreamAlerts = "alerts"
	StreamTest   = "test_topic"
)

var allStreams = []string{StreamGPS, StreamLoad, StreamSensor, StreamAlerts, StreamTest}

// Sender abstracts the outbound half of a websocket connection so the
// hub can be tested without a real network socket.
type Sender interface {
	SendText(message string) error
}

type subscriber struct {
	sender Sender
	cid    int
	pn     string
}

// PlateLister is the subset of the catalog (C1) the hub needs to
// resolve a company's allowed plates.
type PlateLister interface {
	PlatesForCompany(ctx context.Context, companyID int) ([]string, error)
}

// Hub holds, per stream, the set of currently connected subscribers,
// and authorizes each broadcast against a per-company plate allow-list
// cached for plateCacheTTL.
type Hub struct {
	catalog PlateLister

	mu          sync.Mutex
	subscribers map[string]map[*subscriber]struct{}

	plateCache *cache.TTLCache[int, map[string]struct{}]
}

func New(catalog PlateLister) *Hub {
	h := &Hub{
		catalog:     catalog,
		subscribers: make(map[string]map[*subscriber]struct{}),
		plateCache:  cache.New[int, map[string]struct{}](plateCacheTTL),
	}
	for _, s := range allStreams {
		h.subscribers[s] = make(map[*subscriber]struct{})
	}
	return h
}

// Subscription is the handle returned by Connect; call Close to
// unregister from every stream it was subscribed to.
type Subscription struct {
	hub     *Hub
	sub     *subscriber
	streams []string
}

// Connect registers a sender under the given streams, cid and optional
// plate filter pn. Unknown stream names are silently ignored, mirroring
// the original's `if topic in self.active_connections`.
func (h *Hub) Connect(sender Sender, streams []string, cid int, pn string) *Subscription {
	sub := &subscriber{sender: sender, cid: cid, pn: pn}

	h.mu.Lock()
	joined := make([]string, 0, len(streams))
	for _, s := range streams {
		set, ok := h.subscribers[s]
		if !ok {
			continue
		}
		set[sub] = struct{}{}
		joined = append(joined, s)
	}
	h.mu.Unlock()

	fleetlog.Infof("new subscriber joined %v with cid=%d pn=%q", joined, cid, pn)
	return &Subscription{hub: h, sub: sub, streams: joined}
}

// Close unregisters the subscription from every stream it joined.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	for _, stream := range s.streams {
		delete(s.hub.subscribers[stream], s.sub)
	}
}

// plateFilterDoc is the minimal shape Broadcast needs to read out of a
// message to authorize it.
type plateFilterDoc struct {
	LicensePlateNumber string `json:"licensePlateNumber"`
}

// Broadcast sends message to every subscriber of stream whose
// authorization passes: cid==2 always passes; other cids are checked
// against their company's cached plate allow-list; and if the
// subscriber supplied a pn filter, the message's plate must match it
// exactly. message must already be the final JSON payload.
func (h *Hub) Broadcast(ctx context.Context, stream, message string) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers[stream]))
	for s := range h.subscribers[stream] {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	var doc plateFilterDoc
	if err := json.Unmarshal([]byte(message), &doc); err != nil {
		fleetlog.Warnf("hub: broadcast message is not valid JSON: %v", err)
		return
	}

	for _, s := range subs {
		if s.cid != PrivilegedCompanyID {
			allowed, err := h.allowedPlates(ctx, s.cid)
			if err != nil {
				fleetlog.Warnf("hub: loading plates for cid %d: %v", s.cid, err)
				continue
			}
			if _, ok := allowed[doc.LicensePlateNumber]; !ok {
				continue
			}
		}

		if s.pn != "" && doc.LicensePlateNumber != s.pn {
			continue
		}

		if err := s.sender.SendText(message); err != nil {
			fleetlog.Warnf("hub: send to subscriber failed: %v", err)
		}
	}
}

// SweepPlateCache evicts expired per-company plate allow-lists; called
// periodically by the scheduler alongside the enrichment cache sweep.
func (h *Hub) SweepPlateCache() int {
	return h.plateCache.Sweep()
}

func (h *Hub) allowedPlates(ctx context.Context, cid int) (map[string]struct{}, error) {
	return h.plateCache.GetOrLoad(cid, func() (map[string]struct{}, error) {
		plates, err := h.catalog.PlatesForCompany(ctx, cid)
		if err != nil {
			return nil, err
		}
		set := make(map[string]struct{}, len(plates))
		for _, p := range plates {
			set[p] = struct{}{}
		}
		return set, nil
	})
}
