package shardtries

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/statera-project/statera/pkg/core/storage"
)

var gcWatermarkHeight = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Help:      "Height up to which deferred trie deletions have been applied",
		Name:      "gc_watermark_height",
		Namespace: "statera",
	},
	[]string{"shard"},
)

func updateGCWatermarkMetric(shard storage.ShardUId, height uint32) {
	gcWatermarkHeight.WithLabelValues(shard.String()).Set(float64(height))
}

func init() {
	prometheus.MustRegister(
		gcWatermarkHeight,
	)
}
