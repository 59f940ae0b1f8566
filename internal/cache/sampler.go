package cache

import (
	"context"
	"sync"

	"github.com/BaSui01/poolgovernor/governor"
	"github.com/redis/go-redis/v9"
)

// PoolStatser 暴露 go-redis 连接池计数
type PoolStatser interface {
	PoolStats() *redis.PoolStats
}

// PoolSampler 把 go-redis 连接池计数转换为调控器观测
//
// Hits/Misses/Timeouts/StaleConns 是累计值，按两次采样的差值上报；
// 首次采样只建立基线，不上报累计事件。
type PoolSampler struct {
	client PoolStatser

	mu   sync.Mutex
	last *redis.PoolStats
}

// NewPoolSampler 创建采样器
func NewPoolSampler(client PoolStatser) *PoolSampler {
	return &PoolSampler{client: client}
}

// Sample 实现 sampling.Source
func (s *PoolSampler) Sample(ctx context.Context) (governor.PoolObservation, error) {
	if err := ctx.Err(); err != nil {
		return governor.PoolObservation{}, err
	}

	cur := *s.client.PoolStats()

	s.mu.Lock()
	prev := s.last
	s.last = &cur
	s.mu.Unlock()

	return ObservationFromPoolStats(prev, cur), nil
}

// ObservationFromPoolStats 计算观测值
//
//	active    = TotalConns - IdleConns
//	idle      = IdleConns
//	waiting   = Δ Timeouts
//	created   = Δ Misses（未命中即新建连接）
//	destroyed = Δ StaleConns
func ObservationFromPoolStats(prev *redis.PoolStats, cur redis.PoolStats) governor.PoolObservation {
	active := int64(cur.TotalConns) - int64(cur.IdleConns)
	if active < 0 {
		active = 0
	}
	obs := governor.PoolObservation{
		Active: governor.Int64(active),
		Idle:   governor.Int64(int64(cur.IdleConns)),
	}
	if prev == nil {
		return obs
	}

	obs.Waiting = governor.Int64(delta(prev.Timeouts, cur.Timeouts))
	obs.Created = governor.Int64(delta(prev.Misses, cur.Misses))
	obs.Destroyed = governor.Int64(delta(prev.StaleConns, cur.StaleConns))
	return obs
}

// delta 计数器回退（客户端重建）时按 0 处理
func delta(prev, cur uint32) int64 {
	if cur < prev {
		return 0
	}
	return int64(cur - prev)
}
