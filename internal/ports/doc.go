// Package ports defines the interfaces that connect the node and master
// runtimes to infrastructure adapters.
//
// # Port Interfaces
//
//   - [MasterLink]: node to master (registration and status reports)
//   - [NodeLink]: master to node (commands)
//   - [CommandHandler]: the node side of NodeLink
//   - [StatusHandler]: the master side of MasterLink
//   - [HostedFactory]: builds the hosted code for an installed activity
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// The runtimes (internal/node, internal/master) depend only on these
// interfaces. Adapters under internal/adapters implement them over HTTP,
// in process, or with os/exec.
package ports
