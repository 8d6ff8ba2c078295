package portalloc

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownStrategy 表示配置中引用了未注册的端口策略。
var ErrUnknownStrategy = errors.New("unknown port strategy")

// Request 描述一次冲突解决所需的上下文。
type Request struct {
	InstanceID string
	Host       string
	Port       int
	Options    Options
}

// Options 是策略可选参数，目前只有 random-in-range 使用。
type Options struct {
	RangeMin int
	RangeMax int
	Seed     int64
}

// Strategy 在请求端口被占用后给出依次尝试的候选端口。
// 实现必须是确定性的：相同的 Request 与 n 总是返回相同的序列。
type Strategy interface {
	Candidates(req Request, n int) []int
}

// StrategyFunc 将函数适配为 Strategy。
type StrategyFunc func(req Request, n int) []int

// Candidates 让 StrategyFunc 满足 Strategy。
func (f StrategyFunc) Candidates(req Request, n int) []int {
	return f(req, n)
}

var strategies = newStrategyRegistry()

type strategyRegistry struct {
	mu    sync.RWMutex
	items map[string]Strategy
}

func newStrategyRegistry() *strategyRegistry {
	return &strategyRegistry{items: make(map[string]Strategy)}
}

// Register 以名称登记策略，重复名称返回错误。
func Register(name string, s Strategy) error {
	return strategies.register(name, s)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(name string, s Strategy) {
	if err := Register(name, s); err != nil {
		panic(err)
	}
}

// Resolve 按名称查找策略。
func Resolve(name string) (Strategy, bool) {
	return strategies.resolve(name)
}

// Names 返回已注册策略名（排序后）。
func Names() []string {
	return strategies.names()
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *strategyRegistry) register(name string, s Strategy) error {
	key := normalizeName(name)
	if key == "" {
		return errors.New("strategy name is required")
	}
	if s == nil {
		return fmt.Errorf("strategy %s is nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[key]; exists {
		return fmt.Errorf("strategy %s already registered", key)
	}
	r.items[key] = s
	return nil
}

func (r *strategyRegistry) resolve(name string) (Strategy, bool) {
	key := normalizeName(name)
	if key == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.items[key]
	return s, ok
}

func (r *strategyRegistry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.items))
	for key := range r.items {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}
