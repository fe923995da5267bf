// Package domain holds the values exchanged between a master and its
// nodes: node identities, commands and status reports, together with the
// naming rules a registration must satisfy.
//
// Nothing here touches the network, the filesystem or a logger.
//
//   - [NodeIdentity]: what a node tells the master when it registers
//   - [Command]: a request from the master to one node
//   - [StatusReport]: a node's report of an activity state change or command outcome
package domain
