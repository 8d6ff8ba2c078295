package dispatch

import (
	"sort"

	"github.com/topohub/topohub/internal/topology"
)

// RouteMatch 是一次分发的结果。Matched 为 false 表示没有实例承接该请求。
type RouteMatch struct {
	InstanceID string `json:"instance,omitempty"`
	Pattern    string `json:"pattern,omitempty"`
	Matched    bool   `json:"matched"`
}

type route struct {
	pattern  topology.Pattern
	instance int
	order    int
}

// Snapshot 是不可变的路由表。
type Snapshot struct {
	descriptors []topology.Descriptor
	byID        map[string]int
	routes      []route
}

// NewSnapshot 以注册顺序的描述符构建路由表。描述符应来自 topology.Store，
// 未编译的描述符会在这里补做一次编译，编译失败的条目被忽略。
func NewSnapshot(descriptors []topology.Descriptor) *Snapshot {
	s := &Snapshot{byID: make(map[string]int, len(descriptors))}
	for _, d := range descriptors {
		if len(d.Patterns()) == 0 {
			compiled, err := d.Compiled()
			if err != nil {
				continue
			}
			d = compiled
		}
		if _, dup := s.byID[d.ID]; dup {
			continue
		}
		idx := len(s.descriptors)
		s.byID[d.ID] = idx
		s.descriptors = append(s.descriptors, d)
		for order, p := range d.Patterns() {
			s.routes = append(s.routes, route{pattern: p, instance: idx, order: order})
		}
	}

	sort.SliceStable(s.routes, func(i, j int) bool {
		a, b := s.routes[i], s.routes[j]
		if a.pattern.LiteralLen() != b.pattern.LiteralLen() {
			return a.pattern.LiteralLen() > b.pattern.LiteralLen()
		}
		if a.instance != b.instance {
			return a.instance < b.instance
		}
		return a.order < b.order
	})
	return s
}

// Match 在快照内执行分发，永不返回错误。
func (s *Snapshot) Match(hostHeader, rawPath string) RouteMatch {
	if s == nil || len(s.routes) == 0 {
		return RouteMatch{}
	}

	host, _ := topology.NormalizeHost(hostHeader)
	cleaned := topology.CleanPath(rawPath)

	for _, r := range s.routes {
		d := &s.descriptors[r.instance]
		if !d.ServesHost(host) {
			continue
		}
		if r.pattern.Match(cleaned) {
			return RouteMatch{InstanceID: d.ID, Pattern: r.pattern.String(), Matched: true}
		}
	}
	return RouteMatch{}
}

// Instance 返回快照中的描述符。
func (s *Snapshot) Instance(id string) (topology.Descriptor, bool) {
	if s == nil {
		return topology.Descriptor{}, false
	}
	idx, ok := s.byID[id]
	if !ok {
		return topology.Descriptor{}, false
	}
	return s.descriptors[idx], true
}

// Instances 按注册顺序返回快照中的描述符。
func (s *Snapshot) Instances() []topology.Descriptor {
	if s == nil {
		return nil
	}
	return append([]topology.Descriptor(nil), s.descriptors...)
}

// Len 返回快照中的实例数量。
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.descriptors)
}
