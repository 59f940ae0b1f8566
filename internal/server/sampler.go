package server

import (
	"context"
	"sync"

	"github.com/BaSui01/poolgovernor/governor"
)

// ConnStatser 暴露连接计数，*Manager 实现了该接口
type ConnStatser interface {
	ConnStats() ConnStats
}

// ConnStatsFunc 函数适配器，用于 Manager 尚未创建时延迟取值
type ConnStatsFunc func() ConnStats

// ConnStats 实现 ConnStatser
func (f ConnStatsFunc) ConnStats() ConnStats { return f() }

// ConnSampler 把本进程 HTTP 服务的连接状态转换为调控器观测
//
//	active    = Active
//	idle      = Idle
//	waiting   = New（已接受、尚未读到请求）
//	created   = Δ Accepted
//	destroyed = Δ Closed
//
// 首次采样只建立累计值基线。
type ConnSampler struct {
	src ConnStatser

	mu   sync.Mutex
	last *ConnStats
}

// NewConnSampler 创建采样器
func NewConnSampler(src ConnStatser) *ConnSampler {
	return &ConnSampler{src: src}
}

// Sample 实现 sampling.Source
func (s *ConnSampler) Sample(ctx context.Context) (governor.PoolObservation, error) {
	if err := ctx.Err(); err != nil {
		return governor.PoolObservation{}, err
	}
	cur := s.src.ConnStats()

	s.mu.Lock()
	prev := s.last
	s.last = &cur
	s.mu.Unlock()

	obs := governor.PoolObservation{
		Active:  governor.Int64(cur.Active),
		Idle:    governor.Int64(cur.Idle),
		Waiting: governor.Int64(cur.New),
	}
	if prev != nil {
		obs.Created = governor.Int64(counterDelta(prev.Accepted, cur.Accepted))
		obs.Destroyed = governor.Int64(counterDelta(prev.Closed, cur.Closed))
	}
	return obs, nil
}

func counterDelta(prev, cur uint64) int64 {
	if cur < prev {
		return 0
	}
	return int64(cur - prev)
}
