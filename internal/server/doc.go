// Package server builds the per-instance Fiber applications. Every bound
// instance gets its own app whose middleware chain runs in a fixed order:
// recover, request context (request id, dispatch, scope check), security
// headers, compression, response cache, then the instance handler. The
// request context step asks the shared dispatcher which instance owns the
// (Host, path) pair and rejects requests owned by another instance, so a
// listener never answers for routes outside its allow-list. Diagnostics under
// /-/ bypass dispatch and are registered by the routes subpackage.
package server
