package cache

import (
	"context"
	"time"

	"github.com/hatlonely/orm/ref"
	"github.com/pkg/errors"
)

// Namespace 缓存构造函数在 ref.Registry 中的命名空间
const Namespace = "github.com/hatlonely/orm/cache"

var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrConditionFailed = errors.New("condition failed")
)

type setOptions struct {
	Expiration time.Duration
	IfNotExist bool
}

type SetOption func(*setOptions)

func WithExpiration(expiration time.Duration) SetOption {
	return func(options *setOptions) {
		options.Expiration = expiration
	}
}

func WithIfNotExist() SetOption {
	return func(options *setOptions) {
		options.IfNotExist = true
	}
}

func newSetOptions(opts []SetOption) *setOptions {
	options := &setOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// Store 以组合键字符串为键的缓存
type Store[V any] interface {
	// Set WithIfNotExist 时键存在则返回 ErrConditionFailed
	Set(ctx context.Context, key string, value V, opts ...SetOption) error
	// Get 键不存在时返回 ErrKeyNotFound
	Get(ctx context.Context, key string) (V, error)
	// Del 键不存在时也返回成功
	Del(ctx context.Context, key string) error
	Close() error
}

// NewStoreWithOptions 按 Type 创建缓存，可选 SyncMapStore、FreeCacheStore、TieredStore
func NewStoreWithOptions[V any](options *ref.TypeOptions) (Store[V], error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	r := ref.NewRegistry()
	r.MustRegister(Namespace, "SyncMapStore", NewSyncMapStore[V])
	r.MustRegister(Namespace, "FreeCacheStore", NewFreeCacheStoreWithOptions[V])
	r.MustRegister(Namespace, "TieredStore", NewTieredStoreWithOptions[V])

	opts := *options
	if opts.Namespace == "" {
		opts.Namespace = Namespace
	}
	store, err := ref.NewT[Store[V]](r, &opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create cache %s", opts.Type)
	}
	return store, nil
}
