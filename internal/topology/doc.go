// Package topology holds the validated, immutable description of every server
// instance in a topology: bind host, requested port, route prefix, allow-list
// patterns, TLS intent and policy overrides. Descriptors are registered once
// into a Store whose registration order is the tie-break used by port
// allocation and route dispatch.
package topology
