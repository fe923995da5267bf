// Package master is the livespace master runtime.
//
// A Master keeps the fleet of registered nodes and a roster of the
// activities they host. Operator requests become RemoteGoal
// transitioners in a goal collection: the first step queues a command on
// the target node's dispatcher queue, and later steps resolve as the
// node's status reports arrive through HandleStatus. Nothing in a goal
// step waits on the network.
//
// LastActivityState in the master roster is written only from status
// reports, so it always holds a state some node has confirmed.
package master
