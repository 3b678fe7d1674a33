// Package trigger interprets the free-form trigger maps supplied by
// upstream agents into typed policy structs.
//
// Trigger payloads are loosely shaped: the same policy can arrive under
// several keys, flags can be booleans or strings, and lists can be typed
// or untyped. Rather than ad hoc lookups scattered through the lifecycle
// engine, every fallback chain is resolved here, once, with its precedence
// documented on the resolver.
package trigger
