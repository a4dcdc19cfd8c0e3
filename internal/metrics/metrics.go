// Package metrics exposes Prometheus instrumentation for the real-time core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the hub, the gateway and the persistence dispatcher report to.
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	RoomCreated()
	RoomEvicted()
	RecordEvent(eventType string)
	RecordBroadcast(eventType string, recipients int)
	RecordDropped(reason string)
	RecordPersist(op string, err error, duration time.Duration)
	RecordRoomPanic()
}

// Drop reasons.
const (
	DropSlowConsumer  = "slow_consumer"
	DropProtocol      = "protocol_error"
	DropRateLimited   = "rate_limited"
	DropPersistQueue  = "persist_queue_full"
	DropPersistClosed = "persist_stopped"
)

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	connections    prometheus.Gauge
	rooms          prometheus.Gauge
	events         *prometheus.CounterVec
	broadcasts     *prometheus.CounterVec
	recipients     prometheus.Counter
	dropped        *prometheus.CounterVec
	persist        *prometheus.CounterVec
	persistLatency prometheus.Histogram
	roomPanics     prometheus.Counter
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pokersync_connections",
			Help: "Open WebSocket connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pokersync_rooms",
			Help: "Live room actors.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pokersync_events_total",
			Help: "Client events applied, by type.",
		}, []string{"type"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pokersync_broadcasts_total",
			Help: "Room broadcasts, by event type.",
		}, []string{"type"}),
		recipients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pokersync_broadcast_recipients_total",
			Help: "Frames queued to connections by broadcasts.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pokersync_dropped_total",
			Help: "Frames, events or persistence calls dropped, by reason.",
		}, []string{"reason"}),
		persist: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pokersync_persist_total",
			Help: "Session store calls, by operation and result.",
		}, []string{"op", "result"}),
		persistLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pokersync_persist_latency_seconds",
			Help:    "Session store call latency including retries.",
			Buckets: prometheus.DefBuckets,
		}),
		roomPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pokersync_room_panics_total",
			Help: "Panics recovered inside room actors.",
		}),
	}

	reg.MustRegister(
		c.connections,
		c.rooms,
		c.events,
		c.broadcasts,
		c.recipients,
		c.dropped,
		c.persist,
		c.persistLatency,
		c.roomPanics,
	)

	return c
}

// ConnectionOpened increments the connection gauge.
func (c *Collector) ConnectionOpened() { c.connections.Inc() }

// ConnectionClosed decrements the connection gauge.
func (c *Collector) ConnectionClosed() { c.connections.Dec() }

// RoomCreated increments the room gauge.
func (c *Collector) RoomCreated() { c.rooms.Inc() }

// RoomEvicted decrements the room gauge.
func (c *Collector) RoomEvicted() { c.rooms.Dec() }

// RecordEvent counts an applied client event.
func (c *Collector) RecordEvent(eventType string) {
	c.events.WithLabelValues(eventType).Inc()
}

// RecordBroadcast counts a broadcast and its fan-out.
func (c *Collector) RecordBroadcast(eventType string, recipients int) {
	c.broadcasts.WithLabelValues(eventType).Inc()
	c.recipients.Add(float64(recipients))
}

// RecordDropped counts something dropped for reason.
func (c *Collector) RecordDropped(reason string) {
	c.dropped.WithLabelValues(reason).Inc()
}

// RecordPersist counts a session store call and observes its latency.
func (c *Collector) RecordPersist(op string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.persist.WithLabelValues(op, result).Inc()
	c.persistLatency.Observe(duration.Seconds())
}

// RecordRoomPanic counts a recovered room actor panic.
func (c *Collector) RecordRoomPanic() { c.roomPanics.Inc() }

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything. It is the default when no Recorder is configured.
type Nop struct{}

func (Nop) ConnectionOpened() {}
func (Nop) ConnectionClosed() {}
func (Nop) RoomCreated() {}
func (Nop) RoomEvicted() {}
func (Nop) RecordEvent(string) {}
func (Nop) RecordBroadcast(string, int) {}
func (Nop) RecordDropped(string) {}
func (Nop) RecordPersist(string, error, time.Duration) {}
func (Nop) RecordRoomPanic() {}
