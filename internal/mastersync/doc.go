// Package mastersync carries lifecycle state from nodes to the master.
//
// On a node, a Reporter is installed as the lifecycle EventEmitter of
// every activity. Each confirmed transition becomes one StatusReport,
// queued in confirmation order and delivered by a single goroutine after
// the node has registered. A report is retried until the master accepts
// it and is never merged with another.
//
// ToStatus and FromStatus translate between lifecycle states and the
// transport values in internal/domain.
package mastersync
