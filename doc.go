// Package circulate provides a composable circulation engine for lending
// catalogs. At its core sits a bounded-concurrency task scheduler that
// serializes every mutating catalog action — add, edit, delete, borrow,
// return, reserve, sync — as a labeled task with its own one-shot outcome.
//
// Circulate is designed as a library, not a service. Import it, configure a
// store, and drive the catalog through the circulation service; the daemon
// under cmd/circulated is one thin consumer of the same API.
//
// # Quick Start
//
//	c, err := circulate.New(
//	    circulate.WithStore(memStore),
//	    circulate.WithConcurrency(4),
//	)
//
// # Architecture
//
// Circulate follows a composable store pattern where each subsystem
// (catalog, journal, dlq, cluster) defines its own store interface and a
// single backend implements the ones it supports.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package circulate
