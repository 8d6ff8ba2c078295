// Package portalloc resolves port collisions between topology instances.
// Allocation is a pure, serialized pass over descriptors in registration order
// against an explicit Occupied set; it never probes the operating system, so
// identical inputs always produce identical plans. Collision strategies are
// looked up by name from a registry, mirroring how other pluggable pieces of
// the topology are resolved.
package portalloc
