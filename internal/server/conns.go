package server

import (
	"net"
	"net/http"
	"sync"
)

// ConnStats 监听端口上的连接计数
// Active 正在处理请求，Idle 为 keep-alive 等待下一个请求，New 已接受但尚未读到请求。
// Accepted 与 Closed 为累计值，被劫持升级的连接计入 Closed。
type ConnStats struct {
	Active   int64  `json:"active"`
	Idle     int64  `json:"idle"`
	New      int64  `json:"new"`
	Accepted uint64 `json:"accepted"`
	Closed   uint64 `json:"closed"`
}

// Open 当前仍持有的连接数
func (s ConnStats) Open() int64 {
	return s.Active + s.Idle + s.New
}

// connTracker 通过 http.Server.ConnState 回调跟踪每个连接的最新状态
type connTracker struct {
	mu       sync.Mutex
	states   map[net.Conn]http.ConnState
	accepted uint64
	closed   uint64
}

func newConnTracker() *connTracker {
	return &connTracker{states: make(map[net.Conn]http.ConnState)}
}

func (t *connTracker) track(c net.Conn, state http.ConnState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch state {
	case http.StateNew:
		t.accepted++
		t.states[c] = state
	case http.StateActive, http.StateIdle:
		t.states[c] = state
	case http.StateHijacked, http.StateClosed:
		if _, ok := t.states[c]; ok {
			delete(t.states, c)
			t.closed++
		}
	}
}

// Stats 返回计数快照
func (t *connTracker) Stats() ConnStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := ConnStats{Accepted: t.accepted, Closed: t.closed}
	for _, state := range t.states {
		switch state {
		case http.StateActive:
			stats.Active++
		case http.StateIdle:
			stats.Idle++
		default:
			stats.New++
		}
	}
	return stats
}
