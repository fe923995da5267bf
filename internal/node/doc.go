// Package node is the runtime of one livespace node.
//
// A Controller keeps a lifecycle.Runner for every installed activity and
// a goal collection of transitioners driving them toward requested
// states. Every confirmed state change is written to the roster, queued
// for the master through a mastersync.Reporter, and fed back into the
// goal collection from a single goroutine.
//
// Commands arrive through HandleCommand. Deploy, delete and configure
// complete before it returns; lifecycle commands only register a goal,
// which the collection, its periodic driver and the state change feed
// then pursue without blocking the caller.
package node
