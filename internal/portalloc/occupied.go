package portalloc

import (
	"sync"

	"github.com/topohub/topohub/internal/topology"
)

const wildcardHost = "*"

// HostPort 是一个已占用的监听地址。Host 为 "*" 表示所有地址。
type HostPort struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// Occupied 记录规划期间已被占用的 (host, port)。通配地址与同端口的任意 Host 冲突，
// 与操作系统的 bind 规则保持一致。
type Occupied struct {
	mu     sync.Mutex
	byPort map[int]map[string]struct{}
}

// NewOccupied 以给定条目初始化占用集合。
func NewOccupied(entries ...HostPort) *Occupied {
	o := &Occupied{byPort: make(map[int]map[string]struct{})}
	for _, e := range entries {
		o.add(e.Host, e.Port)
	}
	return o
}

// Add 标记 host:port 已被占用。
func (o *Occupied) Add(host string, port int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.add(host, port)
}

// Contains 判断 host:port 是否与已占用条目冲突。
func (o *Occupied) Contains(host string, port int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.contains(host, port)
}

// claim 在同一把锁内依次检查候选端口，命中第一个空闲端口后立即占用。
// 返回端口、已尝试次数以及是否成功。
func (o *Occupied) claim(host string, candidates []int) (int, int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	attempts := 0
	for _, port := range candidates {
		attempts++
		if port <= 0 || port > 65535 {
			continue
		}
		if o.contains(host, port) {
			continue
		}
		o.add(host, port)
		return port, attempts, true
	}
	return 0, attempts, false
}

func (o *Occupied) add(host string, port int) {
	key := occupancyKey(host)
	hosts := o.byPort[port]
	if hosts == nil {
		hosts = make(map[string]struct{})
		o.byPort[port] = hosts
	}
	hosts[key] = struct{}{}
}

func (o *Occupied) contains(host string, port int) bool {
	hosts := o.byPort[port]
	if len(hosts) == 0 {
		return false
	}
	key := occupancyKey(host)
	if key == wildcardHost {
		return true
	}
	if _, ok := hosts[wildcardHost]; ok {
		return true
	}
	_, ok := hosts[key]
	return ok
}

func occupancyKey(host string) string {
	if topology.IsWildcardHost(host) {
		return wildcardHost
	}
	normalized, _ := topology.NormalizeHost(host)
	return normalized
}
