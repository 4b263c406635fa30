package flatstorage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/statera-project/statera/pkg/core/storage"
)

var flatHeadHeight = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Help:      "Height folded into the flat storage base mapping",
		Name:      "flat_head_height",
		Namespace: "statera",
	},
	[]string{"shard"},
)

func updateFlatHeadMetric(shard storage.ShardUId, height uint32) {
	flatHeadHeight.WithLabelValues(shard.String()).Set(float64(height))
}

func init() {
	prometheus.MustRegister(
		flatHeadHeight,
	)
}
