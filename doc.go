// Package loom orchestrates long-lived workflow runs: units of work
// representing an AI coding agent executing a multi-step task against a
// repository, gated by human approval and subject to retry policies.
//
// Loom is designed as a library, not a service. Import it, configure a run
// store and an event publisher, and drive run operations through an
// orchestrator.Orchestrator.
//
// # Quick Start
//
//	orc, err := orchestrator.New(
//	    orchestrator.WithStore(memory.New()),
//	    orchestrator.WithPublisher(event.NewMemoryPublisher()),
//	)
//
// This root package holds what every subsystem shares: sentinel errors,
// the typed OpError record, and entity timestamp stamps.
//
// # Architecture
//
// The core is a finite state machine over a single persisted run record.
// Every operation (create, approve, reject, retry, retry_step, transition)
// reads the current run, computes the target state with pure functions,
// applies a single atomic write through the store, and then publishes
// lifecycle events. Event publication failures are captured as non-fatal
// diagnostics on the run and never roll back a committed transition.
//
// Collaborators (run store, run lookup, event publisher, issue poster) are
// explicit injected interfaces. In-memory implementations ship for
// development and tests; Postgres and Redis backends live under store/.
//
// Durable surrogate IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers. The human-facing run identifier is a plain string unique
// within a project.
package loom
