// Package dispatch 把 (Host, 路径) 映射到负责的实例。
//
// 路由表在 Snapshot 中预先排好序：固定前缀越长越靠前，长度相同时按实例注册顺序，
// 再按实例内模式的声明顺序。Dispatch 只读取当前快照，不加锁；热更新通过 Publish
// 原子替换整张快照完成。
package dispatch
