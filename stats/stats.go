// Package stats exports microTCP endpoint counters as prometheus metrics.
package stats

import (
	"sync"

	microtcp "github.com/Angelos-Dimoglis/microTCP"
	"github.com/prometheus/client_golang/prometheus"
)

type info struct {
	description *prometheus.Desc
	supplier    func(ep *microtcp.Endpoint, cnt microtcp.Counters, labelValues []string) prometheus.Metric
}

// Collector implements [prometheus.Collector] over a set of registered
// endpoints. Counter snapshots are taken atomically, so endpoints may be
// scraped while their owning goroutine drives the connection.
type Collector struct {
	mu        sync.Mutex
	endpoints map[string]*microtcp.Endpoint
	infos     []info
}

// NewCollector returns a Collector whose metric names carry prefix.
func NewCollector(prefix string) *Collector {
	labels := []string{"endpoint"}
	c := &Collector{endpoints: make(map[string]*microtcp.Endpoint)}
	add := func(name, help string, value prometheus.ValueType, get func(*microtcp.Endpoint, microtcp.Counters) float64) {
		desc := prometheus.NewDesc(prefix+"_"+name, help, labels, nil)
		c.infos = append(c.infos, info{
			description: desc,
			supplier: func(ep *microtcp.Endpoint, cnt microtcp.Counters, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(desc, value, get(ep, cnt), lv...)
			},
		})
	}
	add("packets_sent", "Segments transmitted, including pure ACKs.", prometheus.CounterValue,
		func(_ *microtcp.Endpoint, cnt microtcp.Counters) float64 { return float64(cnt.PacketsSent) })
	add("packets_received", "Segments received, including pure ACKs.", prometheus.CounterValue,
		func(_ *microtcp.Endpoint, cnt microtcp.Counters) float64 { return float64(cnt.PacketsReceived) })
	add("bytes_sent", "Payload bytes transmitted.", prometheus.CounterValue,
		func(_ *microtcp.Endpoint, cnt microtcp.Counters) float64 { return float64(cnt.BytesSent) })
	add("bytes_received", "Payload bytes delivered to the application.", prometheus.CounterValue,
		func(_ *microtcp.Endpoint, cnt microtcp.Counters) float64 { return float64(cnt.BytesReceived) })
	add("packets_lost", "Segments discarded for failing integrity checks.", prometheus.CounterValue,
		func(_ *microtcp.Endpoint, cnt microtcp.Counters) float64 { return float64(cnt.PacketsLost) })
	add("state", "Endpoint FSM state as its enumeration value.", prometheus.GaugeValue,
		func(ep *microtcp.Endpoint, _ microtcp.Counters) float64 { return float64(ep.State()) })
	return c
}

// Describe implements [prometheus.Collector].
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	for _, info := range c.infos {
		descs <- info.description
	}
}

// Collect implements [prometheus.Collector].
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, ep := range c.endpoints {
		cnt := ep.Counters()
		for _, info := range c.infos {
			metrics <- info.supplier(ep, cnt, []string{name})
		}
	}
}

// Add registers ep under the endpoint label name, replacing any previous
// registration of that name.
func (c *Collector) Add(name string, ep *microtcp.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints[name] = ep
}

// Remove drops the endpoint registered under name.
func (c *Collector) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.endpoints, name)
}
