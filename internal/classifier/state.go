package classifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-alerting/internal/keylock"
	"wisefido-alerting/internal/models"
)

// State 单个 (tenant, subject, metric) 的分类状态
type State struct {
	CurrentBand   models.DangerLevel `json:"current_band,omitempty"`
	BandEnteredAt time.Time          `json:"band_entered_at"`
	// 当前区间内是否已经触发过
	Fired        bool      `json:"fired"`
	LastSampleAt time.Time `json:"last_sample_at"`
}

// StateStore 分类状态存储
// Update 对单个 key 做原子的读-改-写；key 不存在时 fn 收到零值
type StateStore interface {
	Update(ctx context.Context, key string, fn func(*State) error) error
	Get(ctx context.Context, key string) (*State, error)
}

// StateKey tenant|subject|metric
func StateKey(tenantID, subjectID, metric string) string {
	return fmt.Sprintf("%s|%s|%s", tenantID, subjectID, metric)
}

// MemoryStateStore 进程内状态存储（按 key 加锁）
type MemoryStateStore struct {
	locks  *keylock.KeyLock
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryStateStore 创建进程内状态存储
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		locks:  keylock.New(),
		states: make(map[string]State),
	}
}

func (s *MemoryStateStore) Update(ctx context.Context, key string, fn func(*State) error) error {
	unlock := s.locks.Lock(key)
	defer unlock()

	s.mu.RLock()
	st := s.states[key]
	s.mu.RUnlock()

	if err := fn(&st); err != nil {
		return err
	}

	s.mu.Lock()
	s.states[key] = st
	s.mu.Unlock()
	return nil
}

func (s *MemoryStateStore) Get(ctx context.Context, key string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[key]
	if !ok {
		return nil, nil
	}
	return &st, nil
}
