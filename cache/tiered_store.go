package cache

import (
	"context"

	"github.com/hatlonely/orm/ref"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

type TieredStoreOptions struct {
	// Tiers 按优先级从高到低排列，第一层应该是最快的缓存
	Tiers []*ref.TypeOptions `cfg:"tiers" validate:"required,min=1,dive,required"`

	// Promote 从下层读到的数据写回上层
	Promote bool `cfg:"promote" def:"true"`
}

// TieredStore 多级缓存，写入所有层，读取时从上到下查找
type TieredStore[V any] struct {
	tiers   []Store[V]
	promote bool
}

func NewTieredStoreWithOptions[V any](options *TieredStoreOptions) (*TieredStore[V], error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if len(options.Tiers) == 0 {
		return nil, errors.New("at least one tier is required")
	}

	tiers := make([]Store[V], 0, len(options.Tiers))
	for i, tierOptions := range options.Tiers {
		tier, err := NewStoreWithOptions[V](tierOptions)
		if err != nil {
			for _, created := range tiers {
				_ = created.Close()
			}
			return nil, errors.WithMessagef(err, "failed to create tier %d", i)
		}
		tiers = append(tiers, tier)
	}
	return NewTieredStore(options.Promote, tiers...), nil
}

func NewTieredStore[V any](promote bool, tiers ...Store[V]) *TieredStore[V] {
	return &TieredStore[V]{tiers: tiers, promote: promote}
}

// Set 从最下层开始写，WithIfNotExist 只由最下层判断
func (s *TieredStore[V]) Set(ctx context.Context, key string, value V, opts ...SetOption) error {
	options := newSetOptions(opts)
	for i := len(s.tiers) - 1; i >= 0; i-- {
		tierOpts := opts
		if options.IfNotExist && i != len(s.tiers)-1 {
			tierOpts = []SetOption{WithExpiration(options.Expiration)}
		}
		if err := s.tiers[i].Set(ctx, key, value, tierOpts...); err != nil {
			return err
		}
	}
	return nil
}

func (s *TieredStore[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	for i, tier := range s.tiers {
		value, err := tier.Get(ctx, key)
		if errors.Is(err, ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return zero, errors.WithMessagef(err, "get tier %d failed", i)
		}
		if s.promote {
			for j := 0; j < i; j++ {
				_ = s.tiers[j].Set(ctx, key, value)
			}
		}
		return value, nil
	}
	return zero, ErrKeyNotFound
}

func (s *TieredStore[V]) Del(ctx context.Context, key string) error {
	var err error
	for _, tier := range s.tiers {
		err = multierr.Append(err, tier.Del(ctx, key))
	}
	return err
}

func (s *TieredStore[V]) Close() error {
	var err error
	for _, tier := range s.tiers {
		err = multierr.Append(err, tier.Close())
	}
	return err
}
