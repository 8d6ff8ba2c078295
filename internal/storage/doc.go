// Package storage provides the disk-backed object store rooted at StoragePath.
// Objects live under StoragePath/<namespace>/<name>; writes go through a temp
// file + rename so readers never observe a partial object, and concurrent
// writers of the same object are serialized. The provisioning layer keeps
// issued certificates here so TLS listeners can reload them from disk.
package storage
