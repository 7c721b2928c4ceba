package tracer

import (
	"sync"

	"exposure-tracer/internal/domain"
)

// Collector は1回のスキャンウィンドウで観測したDataPairを重複なく蓄積する。
type Collector struct {
	mu    sync.Mutex
	pairs []domain.DataPair
}

// Observe はpairが未観測であれば追加し、追加した場合にtrueを返す。
// 比較はRPIとAEMのバイト列の完全一致で行う。
func (c *Collector) Observe(pair domain.DataPair) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pairs {
		if p == pair {
			return false
		}
	}
	c.pairs = append(c.pairs, pair)
	return true
}

// Len は蓄積した件数を返す。
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pairs)
}

// Pairs は蓄積したDataPairのコピーを観測順に返す。
func (c *Collector) Pairs() []domain.DataPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.DataPair, len(c.pairs))
	copy(out, c.pairs)
	return out
}
