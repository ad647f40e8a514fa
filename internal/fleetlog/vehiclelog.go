package fleetlog

import (
	"fmt"
	"sync"
)

// VehicleRouter routes ordered log lines for a single message under a
// named logger keyed by license plate (spec §4.6, §9: "best implemented
// as a log router keyed by plate rather than a separate file handle per
// plate to avoid unbounded file-descriptor growth"). Every plate shares
// the package-level writers; only the line prefix differs.
type VehicleRouter struct {
	mu      sync.Mutex
	loggers map[string]*vehicleLogger
	maxKeep int
}

type vehicleLogger struct {
	plate string
}

// NewVehicleRouter returns a router that keeps at most maxKeep distinct
// plate loggers cached; beyond that, an arbitrary cached entry is
// dropped to make room and recreated on its next use (they are cheap — no file handle is opened).
func NewVehicleRouter(maxKeep int) *VehicleRouter {
	if maxKeep <= 0 {
		maxKeep = 4096
	}
	return &VehicleRouter{
		loggers: make(map[string]*vehicleLogger),
		maxKeep: maxKeep,
	}
}

// For returns the logger to use for a given plate. An empty plate is
// routed to a shared "unknown" logger instead of being rejected, since
// handlers must keep logging even when enrichment of the plate failed.
func (r *VehicleRouter) For(plate string) *vehicleLogger {
	if plate == "" {
		plate = "unknown"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.loggers[plate]; ok {
		return l
	}

	if len(r.loggers) >= r.maxKeep {
		for k := range r.loggers {
			delete(r.loggers, k)
			break
		}
	}

	l := &vehicleLogger{plate: plate}
	r.loggers[plate] = l
	return l
}

func (l *vehicleLogger) Info(v ...interface{}) {
	Info(append([]interface{}{fmt.Sprintf("[%s]", l.plate)}, v...)...)
}

func (l *vehicleLogger) Infof(format string, v ...interface{}) {
	Infof("[%s] "+format, append([]interface{}{l.plate}, v...)...)
}

func (l *vehicleLogger) Warnf(format string, v ...interface{}) {
	Warnf("[%s] "+format, append([]interface{}{l.plate}, v...)...)
}

func (l *vehicleLogger) Errorf(format string, v ...interface{}) {
	Errorf("[%s] "+format, append([]interface{}{l.plate}, v...)...)
}
