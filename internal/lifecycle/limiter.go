package lifecycle

import (
	"sync"
	"time"
)

// RateLimiter 滚动窗口计数（每个 key 记录窗口内的发送时间）
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	events map[string][]time.Time
}

// NewRateLimiter 创建限流器
func NewRateLimiter(window time.Duration) *RateLimiter {
	return &RateLimiter{
		window: window,
		events: make(map[string][]time.Time),
	}
}

func (r *RateLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	kept := r.events[key][:0]
	for _, t := range r.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(r.events, key)
		return nil
	}
	r.events[key] = kept
	return kept
}

// Allow 原子地检查并计数；limit <= 0 表示不限
func (r *RateLimiter) Allow(key string, now time.Time, limit int) bool {
	if limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	recent := r.prune(key, now)
	if len(recent) >= limit {
		return false
	}
	r.events[key] = append(recent, now)
	return true
}

// Exhausted 只检查不计数
func (r *RateLimiter) Exhausted(key string, now time.Time, limit int) bool {
	if limit <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prune(key, now)) >= limit
}

// Count 窗口内的计数
func (r *RateLimiter) Count(key string, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prune(key, now))
}

// PruneExpired 清除窗口内已无记录的 key，返回清除数
func (r *RateLimiter) PruneExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key := range r.events {
		if r.prune(key, now) == nil {
			removed++
		}
	}
	return removed
}

// Len 当前记录的 key 数
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
