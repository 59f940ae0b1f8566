package governor

// ring 固定容量的 FIFO 环形缓冲，满时覆盖最旧元素
// 非并发安全，由 MetricsRecorder 加锁保护。
type ring[T any] struct {
	buf   []T
	head  int // 下一个写入位置
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

// Push 追加元素，O(1) 淘汰最旧元素
func (r *ring[T]) Push(v T) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Len 当前元素数
func (r *ring[T]) Len() int {
	return r.count
}

// Cap 容量
func (r *ring[T]) Cap() int {
	return len(r.buf)
}

// Last 返回最近的 n 个元素（按从旧到新排序），n 超出时返回全部
func (r *ring[T]) Last(n int) []T {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]T, n)
	start := r.head - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Each 从旧到新遍历最近的 n 个元素，不分配内存
func (r *ring[T]) Each(n int, fn func(T)) {
	if n <= 0 || n > r.count {
		n = r.count
	}
	start := r.head - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < n; i++ {
		fn(r.buf[(start+i)%len(r.buf)])
	}
}

// Clear 清空缓冲
func (r *ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.count = 0
}
