// Gantry machine metrics
//
// Motion, homing, pick-and-place, painting, intent and link metrics of the
// gantry host, plus Go runtime gauges refreshed on every scrape.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"time"

	"gantry-go/pkg/errors"
)

// MachineMetrics holds every metric of the host.
type MachineMetrics struct {
	MovesTotal   *Counter
	AxisPosition *Gauge

	HomingAttempts *Counter
	HomingTimeouts *Counter
	HomingTime     *Histogram

	PnPCycles *Counter
	PnPSkips  *Counter
	PnPIndex  *Gauge

	PaintSides *Counter
	PaintTime  *Histogram

	Intents         *Counter
	IntentsRejected *Counter
	Mode            *Gauge
	Activity        *Gauge
	Stops           *Counter
	ShutdownEvents  *Counter
	LinkErrors      *Counter

	HostUptime   *Gauge
	GoGoroutines *Gauge
	GoMemoryHeap *Gauge

	startTime time.Time
	registry  *Registry
}

// NewMachineMetrics creates and registers the metrics.
func NewMachineMetrics() *MachineMetrics {
	mm := &MachineMetrics{startTime: time.Now(), registry: NewRegistry()}

	mm.MovesTotal = NewCounter("gantry_moves_total", "Moves that commanded at least one motor")
	mm.AxisPosition = NewGauge("gantry_axis_position_units", "Last reported axis position")

	mm.HomingAttempts = NewCounter("gantry_homing_attempts_total", "Homing passes started")
	mm.HomingTimeouts = NewCounter("gantry_homing_timeouts_total", "Axes that missed their switch within the homing timeout")
	mm.HomingTime = NewHistogram("gantry_homing_seconds", "Duration of successful homing passes",
		[]float64{1, 2, 5, 10, 15, 30})

	mm.PnPCycles = NewCounter("gantry_pnp_cycles_total", "Completed pick and place cycles")
	mm.PnPSkips = NewCounter("gantry_pnp_skips_total", "Skipped placement cells")
	mm.PnPIndex = NewGauge("gantry_pnp_index", "Current placement index")

	mm.PaintSides = NewCounter("gantry_paint_sides_total", "Painted sides")
	mm.PaintTime = NewHistogram("gantry_paint_side_seconds", "Time to paint one side",
		[]float64{5, 10, 30, 60, 120, 300})

	mm.Intents = NewCounter("gantry_intents_total", "Intents requested")
	mm.IntentsRejected = NewCounter("gantry_intents_rejected_total", "Intents rejected or failed, by error code")
	mm.Mode = NewGauge("gantry_mode", "Machine mode (0=idle, 1=pickplace, 2=calibration)")
	mm.Activity = NewGauge("gantry_activity", "Machine activity (0=idle, 1=homing, 2=moving)")
	mm.Stops = NewCounter("gantry_stops_total", "STOP requests")
	mm.ShutdownEvents = NewCounter("gantry_shutdown_events_total", "Safety shutdowns")
	mm.LinkErrors = NewCounter("gantry_link_errors_total", "Board link errors")

	mm.HostUptime = NewGauge("gantry_host_uptime_seconds", "Host uptime")
	mm.GoGoroutines = NewGauge("gantry_go_goroutines", "Active goroutines")
	mm.GoMemoryHeap = NewGauge("gantry_go_memory_heap_bytes", "Go heap in use")

	for _, m := range []Metric{
		mm.MovesTotal, mm.AxisPosition,
		mm.HomingAttempts, mm.HomingTimeouts, mm.HomingTime,
		mm.PnPCycles, mm.PnPSkips, mm.PnPIndex,
		mm.PaintSides, mm.PaintTime,
		mm.Intents, mm.IntentsRejected, mm.Mode, mm.Activity,
		mm.Stops, mm.ShutdownEvents, mm.LinkErrors,
		mm.HostUptime, mm.GoGoroutines, mm.GoMemoryHeap,
	} {
		mm.registry.MustRegister(m)
	}
	return mm
}

// RecordMove counts a move.
func (mm *MachineMetrics) RecordMove() { mm.MovesTotal.Inc(nil) }

// SetPosition records the axis positions.
func (mm *MachineMetrics) SetPosition(x, y, z, rot float64) {
	mm.AxisPosition.Set(Labels{"axis": "x"}, x)
	mm.AxisPosition.Set(Labels{"axis": "y"}, y)
	mm.AxisPosition.Set(Labels{"axis": "z"}, z)
	mm.AxisPosition.Set(Labels{"axis": "rot"}, rot)
}

// RecordHoming records a finished homing pass. A timeout counts each
// failing axis instead of a duration.
func (mm *MachineMetrics) RecordHoming(seconds float64, err error) {
	mm.HomingAttempts.Inc(nil)
	if axes := errors.TimedOutAxes(err); len(axes) > 0 {
		for _, a := range axes {
			mm.HomingTimeouts.Inc(Labels{"axis": a})
		}
		return
	}
	if err == nil {
		mm.HomingTime.Observe(nil, seconds)
	}
}

// RecordPnPCycle counts a cycle and records the new index.
func (mm *MachineMetrics) RecordPnPCycle(index int) {
	mm.PnPCycles.Inc(nil)
	mm.PnPIndex.Set(nil, float64(index))
}

// RecordPnPSkip counts a skipped cell.
func (mm *MachineMetrics) RecordPnPSkip(index int) {
	mm.PnPSkips.Inc(nil)
	mm.PnPIndex.Set(nil, float64(index))
}

// RecordPaintSide records a painted side.
func (mm *MachineMetrics) RecordPaintSide(side string, seconds float64) {
	mm.PaintSides.Inc(Labels{"side": side})
	mm.PaintTime.Observe(Labels{"side": side}, seconds)
}

// RecordIntent counts an intent and, when err is set, its error code.
func (mm *MachineMetrics) RecordIntent(intent string, err error) {
	mm.Intents.Inc(Labels{"intent": intent})
	if err != nil {
		mm.IntentsRejected.Inc(Labels{"intent": intent, "code": string(errors.CodeOf(err))})
	}
}

// SetState records mode and activity ordinals.
func (mm *MachineMetrics) SetState(mode, activity int) {
	mm.Mode.Set(nil, float64(mode))
	mm.Activity.Set(nil, float64(activity))
}

// RecordStop counts a STOP.
func (mm *MachineMetrics) RecordStop() { mm.Stops.Inc(nil) }

// RecordShutdown counts a safety shutdown.
func (mm *MachineMetrics) RecordShutdown(reason string) {
	mm.ShutdownEvents.Inc(Labels{"reason": reason})
}

// RecordLinkError counts a board link error.
func (mm *MachineMetrics) RecordLinkError(board string) {
	mm.LinkErrors.Inc(Labels{"board": board})
}

// UpdateSystemMetrics refreshes the runtime gauges.
func (mm *MachineMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)
	mm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	mm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	mm.HostUptime.Set(nil, time.Since(mm.startTime).Seconds())
}

// Gather renders every metric.
func (mm *MachineMetrics) Gather() string {
	mm.UpdateSystemMetrics()
	return mm.registry.Gather()
}

// Registry returns the registry.
func (mm *MachineMetrics) Registry() *Registry { return mm.registry }
