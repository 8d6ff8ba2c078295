// Package provision 负责 TLS 实例的证书申请。
//
// Coordinator 为每个域名维护一条 Record，状态机为
// Pending → Issuing → Issued | Failed，只有显式 Retry 才能让 Failed 回到 Pending。
// 同一域名的并发申请会被合并为一次签发，不同域名互不阻塞。
// 真正的签发由可插拔的 Issuer 完成，内置 selfsigned 与 files 两种实现。
package provision
