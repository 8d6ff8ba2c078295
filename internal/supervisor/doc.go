// Package supervisor runs the whole topology: it validates descriptors,
// allocates ports in one serialized pass, provisions certificates for TLS
// instances, binds every instance in registration order, publishes the
// dispatcher snapshot and serves one Fiber app per instance. Shutdown stops
// instances in reverse start order and drains in-flight requests until the
// grace period runs out.
package supervisor
