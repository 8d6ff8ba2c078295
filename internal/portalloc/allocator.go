package portalloc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/topohub/topohub/internal/config"
	"github.com/topohub/topohub/internal/topology"
)

// DefaultMaxAttempts 是未配置时的最大尝试次数（包含请求端口本身）。
const DefaultMaxAttempts = 10

// ErrPortExhausted 可用于 errors.Is 判断。
var ErrPortExhausted = errors.New("port exhausted")

// PortExhaustedError 表示在尝试上限内没有找到空闲端口。
type PortExhaustedError struct {
	InstanceID string
	Host       string
	Requested  int
	Attempts   int
	Strategy   string
}

func (e *PortExhaustedError) Error() string {
	return fmt.Sprintf("instance %s: no free port for %s:%d after %d attempts (strategy %s)",
		e.InstanceID, e.Host, e.Requested, e.Attempts, e.Strategy)
}

// Is 让 errors.Is(err, ErrPortExhausted) 成立。
func (e *PortExhaustedError) Is(target error) bool {
	return target == ErrPortExhausted
}

// AllocatedPort 是冲突解决后的最终端口，绑定后不再变化。
type AllocatedPort struct {
	InstanceID string `yaml:"instance" json:"instance"`
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	Requested  int    `yaml:"requested" json:"requested"`
	Attempts   int    `yaml:"attempts" json:"attempts"`
	Strategy   string `yaml:"strategy,omitempty" json:"strategy,omitempty"`
}

// Switched 表示最终端口与请求端口不同。
func (p AllocatedPort) Switched() bool {
	return p.Port != p.Requested
}

// Allocator 按配置的策略解决端口冲突。
type Allocator struct {
	enabled     bool
	maxAttempts int
	name        string
	strategy    Strategy
	options     Options
}

// NewAllocator 根据 AutoPortSwitch 配置构建分配器，策略名未注册时返回 ErrUnknownStrategy。
func NewAllocator(cfg config.AutoPortSwitch) (*Allocator, error) {
	name := normalizeName(cfg.Strategy)
	if name == "" {
		name = StrategyIncrement
	}
	strategy, ok := Resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %s)", ErrUnknownStrategy, cfg.Strategy, strings.Join(Names(), ", "))
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Allocator{
		enabled:     cfg.Enabled,
		maxAttempts: maxAttempts,
		name:        name,
		strategy:    strategy,
		options: Options{
			RangeMin: cfg.RangeMin,
			RangeMax: cfg.RangeMax,
			Seed:     cfg.Seed,
		},
	}, nil
}

// MaxAttempts 返回单次分配的尝试上限。
func (a *Allocator) MaxAttempts() int {
	return a.maxAttempts
}

// Allocate 为描述符选择端口：请求端口空闲则直接占用，否则按策略依次尝试，
// 总尝试次数（含请求端口）不超过 MaxAttempts。成功后端口已写入 occupied。
func (a *Allocator) Allocate(d topology.Descriptor, occupied *Occupied) (AllocatedPort, error) {
	if occupied == nil {
		return AllocatedPort{}, errors.New("occupied set is nil")
	}

	// 端口 0 交给操作系统分配，不参与冲突检测。
	if d.Port == 0 {
		return AllocatedPort{InstanceID: d.ID, Host: d.Host, Attempts: 1}, nil
	}

	candidates := []int{d.Port}
	if a.enabled && a.maxAttempts > 1 {
		req := Request{InstanceID: d.ID, Host: d.Host, Port: d.Port, Options: a.options}
		candidates = append(candidates, a.strategy.Candidates(req, a.maxAttempts-1)...)
	}
	if len(candidates) > a.maxAttempts {
		candidates = candidates[:a.maxAttempts]
	}

	port, attempts, ok := occupied.claim(d.Host, candidates)
	if !ok {
		return AllocatedPort{}, &PortExhaustedError{
			InstanceID: d.ID,
			Host:       d.Host,
			Requested:  d.Port,
			Attempts:   attempts,
			Strategy:   a.name,
		}
	}

	result := AllocatedPort{
		InstanceID: d.ID,
		Host:       d.Host,
		Port:       port,
		Requested:  d.Port,
		Attempts:   attempts,
	}
	if result.Switched() {
		result.Strategy = a.name
	}
	return result, nil
}

// PlanEntry 是单个实例的分配结果。
type PlanEntry struct {
	InstanceID string
	Port       AllocatedPort
	Err        error
}

// PlanResult 是一次完整分配的结果，条目顺序与输入描述符一致。
type PlanResult struct {
	Entries []PlanEntry
}

// Plan 按描述符顺序串行分配端口，失败的实例不会占用端口，继续处理后续实例，
// 以便一次性给出全部实例的结果。
func (a *Allocator) Plan(descriptors []topology.Descriptor, occupied *Occupied) PlanResult {
	plan := PlanResult{Entries: make([]PlanEntry, 0, len(descriptors))}
	for _, d := range descriptors {
		port, err := a.Allocate(d, occupied)
		plan.Entries = append(plan.Entries, PlanEntry{InstanceID: d.ID, Port: port, Err: err})
	}
	return plan
}

// Failed 返回分配失败的条目。
func (p PlanResult) Failed() []PlanEntry {
	var result []PlanEntry
	for _, e := range p.Entries {
		if e.Err != nil {
			result = append(result, e)
		}
	}
	return result
}

// Ports 返回成功分配的端口，按实例 ID 索引。
func (p PlanResult) Ports() map[string]AllocatedPort {
	result := make(map[string]AllocatedPort, len(p.Entries))
	for _, e := range p.Entries {
		if e.Err == nil {
			result[e.InstanceID] = e.Port
		}
	}
	return result
}
