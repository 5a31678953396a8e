package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SchemasTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "graphlite_schemas_total",
			Help: "Number of schemas in the catalog",
		},
	)

	GraphsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "graphlite_graphs_total",
			Help: "Number of graphs in the catalog",
		},
	)

	UsersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "graphlite_users_total",
			Help: "Number of users in the catalog",
		},
	)

	GraphNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graphlite_graph_nodes",
			Help: "Node count hint per graph",
		},
		[]string{"graph"},
	)

	GraphEdges = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graphlite_graph_edges",
			Help: "Edge count hint per graph",
		},
		[]string{"graph"},
	)
)

func init() {
	prometheus.MustRegister(SchemasTotal, GraphsTotal, UsersTotal, GraphNodes, GraphEdges)
}

// Snapshot is one observation of coordinator-wide gauge values. The provider
// callback lives in pkg/coordinator; metrics cannot import it (or pkg/catalog,
// which imports pkg/storage, which imports this package) without a cycle.
type Snapshot struct {
	Schemas int
	Graphs  int
	Users   int
	// NodeCounts/EdgeCounts are keyed by graph path.
	NodeCounts map[string]int64
	EdgeCounts map[string]int64
}

// Collector periodically refreshes catalog-shape gauges from a snapshot
// callback supplied by the coordinator.
type Collector struct {
	observe func() Snapshot
	stopCh  chan struct{}
}

// NewCollector creates a new metrics collector over the given snapshot
// callback.
func NewCollector(observe func() Snapshot) *Collector {
	return &Collector{
		observe: observe,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snap := c.observe()
	SchemasTotal.Set(float64(snap.Schemas))
	GraphsTotal.Set(float64(snap.Graphs))
	UsersTotal.Set(float64(snap.Users))
	for graph, n := range snap.NodeCounts {
		GraphNodes.WithLabelValues(graph).Set(float64(n))
	}
	for graph, n := range snap.EdgeCounts {
		GraphEdges.WithLabelValues(graph).Set(float64(n))
	}
}
