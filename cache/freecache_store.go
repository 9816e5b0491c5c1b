package cache

import (
	"bytes"
	"context"
	"time"

	"github.com/coocood/freecache"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

type FreeCacheStoreOptions struct {
	// Size 缓存字节数，freecache 最小 512KB
	Size       int           `cfg:"size" def:"1048576"`
	DefaultTTL time.Duration `cfg:"defaultTTL"`
}

// FreeCacheStore 值用 msgpack 序列化后存入 freecache，
// 接口类型中的整数解码为 int64 或 uint64，浮点数解码为 float64
type FreeCacheStore[V any] struct {
	cache      *freecache.Cache
	defaultTTL time.Duration
}

func NewFreeCacheStoreWithOptions[V any](options *FreeCacheStoreOptions) (*FreeCacheStore[V], error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	size := options.Size
	if size <= 0 {
		size = 1 << 20
	}
	return &FreeCacheStore[V]{
		cache:      freecache.NewCache(size),
		defaultTTL: options.DefaultTTL,
	}, nil
}

func (s *FreeCacheStore[V]) Set(ctx context.Context, key string, value V, opts ...SetOption) error {
	options := newSetOptions(opts)
	buf, err := msgpack.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "msgpack.Marshal failed, key: %s", key)
	}
	if options.IfNotExist {
		if _, err := s.cache.Get([]byte(key)); err == nil {
			return ErrConditionFailed
		}
	}
	expiration := options.Expiration
	if expiration == 0 {
		expiration = s.defaultTTL
	}
	return errors.Wrapf(s.cache.Set([]byte(key), buf, int(expiration.Seconds())), "freecache set failed, key: %s", key)
}

func (s *FreeCacheStore[V]) Get(ctx context.Context, key string) (V, error) {
	var value V
	buf, err := s.cache.Get([]byte(key))
	if err != nil {
		return value, ErrKeyNotFound
	}
	dec := msgpack.NewDecoder(bytes.NewReader(buf))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&value); err != nil {
		return value, errors.Wrapf(err, "msgpack decode failed, key: %s", key)
	}
	return value, nil
}

func (s *FreeCacheStore[V]) Del(ctx context.Context, key string) error {
	s.cache.Del([]byte(key))
	return nil
}

func (s *FreeCacheStore[V]) Close() error {
	s.cache.Clear()
	return nil
}
