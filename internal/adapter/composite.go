package adapter

import (
	"context"
	"fmt"
)

// Composite 按能力选择不同的工厂。同一工厂只绑定一次。
// 指定工厂在当前网络没有提供某项能力时，改用 Fallback 提供的能力。
type Composite struct {
	Tokens   Factory
	Swap     Factory
	Lend     Factory
	Stake    Factory
	Oracle   Factory
	Fallback Factory
}

// Bind 实现 Factory。
func (c *Composite) Bind(ctx context.Context, binding Binding) (*Set, error) {
	bound := make([]struct {
		factory Factory
		set     *Set
	}, 0, 5)
	get := func(f Factory) (*Set, error) {
		if f == nil {
			return &Set{}, nil
		}
		for _, b := range bound {
			if b.factory == f {
				return b.set, nil
			}
		}
		set, err := f.Bind(ctx, binding)
		if err != nil {
			return nil, err
		}
		if set == nil {
			set = &Set{}
		}
		bound = append(bound, struct {
			factory Factory
			set     *Set
		}{f, set})
		return set, nil
	}

	out := &Set{}
	steps := []struct {
		name    string
		factory Factory
		assign  func(*Set)
	}{
		{"tokens", c.Tokens, func(s *Set) { out.Tokens = s.Tokens }},
		{"swap", c.Swap, func(s *Set) { out.Swap = s.Swap }},
		{"lend", c.Lend, func(s *Set) { out.Lend = s.Lend }},
		{"stake", c.Stake, func(s *Set) { out.Stake = s.Stake }},
		{"oracle", c.Oracle, func(s *Set) { out.Oracle = s.Oracle }},
	}
	for _, step := range steps {
		set, err := get(step.factory)
		if err != nil {
			return nil, fmt.Errorf("绑定 %s 适配器失败: %w", step.name, err)
		}
		step.assign(set)
	}
	if c.Fallback == nil {
		return out, nil
	}
	fallback, err := get(c.Fallback)
	if err != nil {
		return nil, fmt.Errorf("绑定备用适配器失败: %w", err)
	}
	if out.Tokens == nil {
		out.Tokens = fallback.Tokens
	}
	if out.Swap == nil {
		out.Swap = fallback.Swap
	}
	if out.Lend == nil {
		out.Lend = fallback.Lend
	}
	if out.Stake == nil {
		out.Stake = fallback.Stake
	}
	if out.Oracle == nil {
		out.Oracle = fallback.Oracle
	}
	return out, nil
}
