// Package catalog defines the lending-catalog domain model — books,
// members, loans, and holds — and the persistence contract stores
// implement for it.
//
// The package holds data and invariant helpers only. Circulation rules
// (copy accounting, loan limits, role checks) are enforced by the
// circulation package, which drives every mutation through the scheduler.
package catalog
