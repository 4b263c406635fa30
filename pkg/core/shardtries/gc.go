package shardtries

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/statera-project/statera/pkg/core/storage"
	"github.com/statera-project/statera/pkg/core/trie"
	"github.com/statera-project/statera/pkg/io"
	"go.uber.org/zap"
)

// GCWatermark returns the height up to which the deferred deletions of the
// shard have been applied, zero if GC never ran.
func (s *ShardTries) GCWatermark(shard storage.ShardUId) (uint32, error) {
	data, err := s.store.Get(watermarkKey(shard))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("%w: invalid GC watermark record for %s", trie.ErrInconsistentState, shard)
	}
	return binary.BigEndian.Uint32(data), nil
}

// RunGC applies the deferred deletions of every block that has fallen out
// of the retention window as of the given chain head. Pruning block N
// unreferences the root of block N-1, so after a run every root within the
// window stays readable and everything older is gone. The whole run is one
// atomic batch including the watermark update, so an interrupted run never
// double-applies a decrement. The number of pruned blocks is returned.
func (s *ShardTries) RunGC(shard storage.ShardUId, chainHead uint32) (int, error) {
	if chainHead <= s.cfg.RetentionBlocks {
		return 0, nil
	}
	target := chainHead - s.cfg.RetentionBlocks
	wm, err := s.GCWatermark(shard)
	if err != nil {
		return 0, err
	}
	if target <= wm {
		return 0, nil
	}

	cache := storage.NewMemCachedStore(s.store)
	prefix := shard.Prefix()
	pruned := 0
	for h := wm + 1; h <= target; h++ {
		data, err := cache.Get(makeHeightKey(storage.DataTrieChanges, shard, h))
		if err != nil {
			if errors.Is(err, storage.ErrKeyNotFound) {
				continue
			}
			return 0, err
		}
		ch := new(trie.TrieChanges)
		if err := io.FromByteArray(ch, data); err != nil {
			return 0, fmt.Errorf("failed to decode changes of block %d: %w", h, err)
		}
		if err := trie.ApplyDeletions(cache, prefix, ch.Deletions); err != nil {
			return 0, fmt.Errorf("block %d: %w", h, err)
		}
		cache.Delete(makeHeightKey(storage.DataTrieChanges, shard, h))
		cache.Delete(makeHeightKey(storage.DataStateRoot, shard, h-1))
		pruned++
	}
	cache.Put(watermarkKey(shard), binary.BigEndian.AppendUint32(nil, target))
	if _, err := cache.Persist(); err != nil {
		return 0, err
	}

	updateGCWatermarkMetric(shard, target)
	s.log.Info("trie garbage collected",
		zap.Stringer("shard", shard),
		zap.Uint32("watermark", target),
		zap.Int("blocks", pruned))
	return pruned, nil
}
