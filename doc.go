// Package vellum contains the core contracts of the Vellum document database:
// transaction state, the per-execution-unit transaction context services,
// caching, error taxonomy and the shared ID/serialization primitives.
//
// Implementations live in the sub-packages, e.g. transaction (contexts),
// database (registry & name resolution), wal (write ahead log), sandbox
// (maintenance procedure execution) and upgrade (bootstrap sweep).
package vellum
