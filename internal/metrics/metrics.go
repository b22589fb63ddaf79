package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the server's Prometheus registry.
type Collector struct {
	reg *prometheus.Registry

	positionsPublished prometheus.Counter
	fanoutDelivered    prometheus.Counter
	fanoutDropped      prometheus.Counter
	connectedClients   prometheus.Gauge
	alertsFired        *prometheus.CounterVec
	publishDuration    prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		positionsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unibus_positions_published_total",
			Help: "Total position updates accepted from drivers.",
		}),
		fanoutDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unibus_fanout_delivered_total",
			Help: "Total position frames handed to subscriber buffers.",
		}),
		fanoutDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unibus_fanout_dropped_total",
			Help: "Total position frames dropped because a subscriber buffer was full.",
		}),
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "unibus_connected_clients",
			Help: "Currently registered websocket clients.",
		}),
		alertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unibus_alerts_fired_total",
			Help: "Total alerts fired, by kind.",
		}, []string{"kind"}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "unibus_publish_duration_seconds",
			Help:    "Duration of store upsert plus fan-out for one publish.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}

	reg.MustRegister(
		c.positionsPublished,
		c.fanoutDelivered,
		c.fanoutDropped,
		c.connectedClients,
		c.alertsFired,
		c.publishDuration,
	)

	return c
}

func (c *Collector) PositionPublished()        { c.positionsPublished.Inc() }
func (c *Collector) FanoutDelivered()          { c.fanoutDelivered.Inc() }
func (c *Collector) FanoutDropped()            { c.fanoutDropped.Inc() }
func (c *Collector) SetConnectedClients(n int) { c.connectedClients.Set(float64(n)) }
func (c *Collector) AlertFired(kind string)    { c.alertsFired.WithLabelValues(kind).Inc() }

func (c *Collector) PublishObserve(d time.Duration) {
	c.publishDuration.Observe(d.Seconds())
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
