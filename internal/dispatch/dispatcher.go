package dispatch

import (
	"sync/atomic"

	"github.com/topohub/topohub/internal/topology"
)

// Dispatcher 持有当前生效的快照，可被任意数量的请求 goroutine 并发读取。
type Dispatcher struct {
	current atomic.Pointer[Snapshot]
}

// New 创建分发器，snapshot 为 nil 时使用空路由表。
func New(snapshot *Snapshot) *Dispatcher {
	d := &Dispatcher{}
	d.Publish(snapshot)
	return d
}

// Publish 原子替换快照，进行中的 Dispatch 继续使用旧快照。
func (d *Dispatcher) Publish(snapshot *Snapshot) {
	if snapshot == nil {
		snapshot = NewSnapshot(nil)
	}
	d.current.Store(snapshot)
}

// Snapshot 返回当前快照。
func (d *Dispatcher) Snapshot() *Snapshot {
	return d.current.Load()
}

// Dispatch 返回负责 (host, path) 的实例。
func (d *Dispatcher) Dispatch(hostHeader, path string) RouteMatch {
	return d.current.Load().Match(hostHeader, path)
}

// Instance 返回当前快照中的描述符。
func (d *Dispatcher) Instance(id string) (topology.Descriptor, bool) {
	return d.current.Load().Instance(id)
}
