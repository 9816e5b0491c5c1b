package lazy

import "context"

// Budget 关系图的剩余解析深度，自引用的实体每解析一层消耗一次
type Budget struct {
	remaining int
}

func NewBudget(depth int) Budget {
	if depth < 0 {
		depth = 0
	}
	return Budget{remaining: depth}
}

func (b Budget) Remaining() int {
	return b.remaining
}

func (b Budget) Exhausted() bool {
	return b.remaining <= 0
}

// Next 下一层关系可以使用的预算
func (b Budget) Next() Budget {
	if b.remaining <= 0 {
		return b
	}
	return Budget{remaining: b.remaining - 1}
}

// Min 两个预算中较小的一个，关系自己声明的深度会限制继承的预算
func (b Budget) Min(depth int) Budget {
	if depth < b.remaining {
		return NewBudget(depth)
	}
	return b
}

type budgetKey struct{}

// WithBudget 通过 context 把预算传给加载函数
func WithBudget(ctx context.Context, b Budget) context.Context {
	return context.WithValue(ctx, budgetKey{}, b)
}

// BudgetFrom context 中没有预算时使用 depth
func BudgetFrom(ctx context.Context, depth int) Budget {
	if b, ok := ctx.Value(budgetKey{}).(Budget); ok {
		return b
	}
	return NewBudget(depth)
}
