// Package goal provides the reconciliation primitive used by both the
// master and the nodes.
//
// A Transitioner drives one entity toward one goal. Each call to
// Transition performs at most one local step and reports Working, Done
// or Error. A Collection owns the in-flight transitioners keyed by
// entity id and removes them when they finish; adding a transitioner for
// an id that already has one supersedes it, which is the only
// cancellation primitive.
//
// Sequence is a transitioner built from ordered steps, Bounded puts a
// time or attempt ceiling on any transitioner, and Driver re-invokes
// every outstanding goal on a fixed cadence.
package goal
