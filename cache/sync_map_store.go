package cache

import (
	"context"
	"sync"
)

// SyncMapStore 进程内缓存，忽略过期时间
type SyncMapStore[V any] struct {
	m sync.Map
}

func NewSyncMapStore[V any]() *SyncMapStore[V] {
	return &SyncMapStore[V]{}
}

func (s *SyncMapStore[V]) Set(ctx context.Context, key string, value V, opts ...SetOption) error {
	if newSetOptions(opts).IfNotExist {
		if _, loaded := s.m.LoadOrStore(key, value); loaded {
			return ErrConditionFailed
		}
		return nil
	}
	s.m.Store(key, value)
	return nil
}

func (s *SyncMapStore[V]) Get(ctx context.Context, key string) (V, error) {
	value, ok := s.m.Load(key)
	if !ok {
		var zero V
		return zero, ErrKeyNotFound
	}
	return value.(V), nil
}

func (s *SyncMapStore[V]) Del(ctx context.Context, key string) error {
	s.m.Delete(key)
	return nil
}

func (s *SyncMapStore[V]) Close() error {
	s.m.Clear()
	return nil
}
