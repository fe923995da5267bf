// Package livespace embeds a livespace master or node in another Go
// program.
//
// A master keeps the roster of live activities across its nodes and
// drives each one toward the state an operator asked for. A node
// installs activity packages, hosts them and reports every confirmed
// state change back to the master.
//
//	m, err := livespace.NewMaster(livespace.MasterConfig{
//	    DataDir: "/var/lib/livespace/master",
//	    Listen:  ":7700",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := m.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// A node needs an identity and the master URL:
//
//	n, err := livespace.NewNode(livespace.NodeConfig{
//	    Identity:  livespace.NodeIdentity{UUID: id, Name: "edge-1", HostID: hostID},
//	    DataDir:   "/var/lib/livespace/node",
//	    MasterURL: "http://master:7700",
//	    Listen:    ":7701",
//	}, livespace.WithPlugin(filecontrol.New(filecontrol.DefaultConfig())))
//
// # Process states
//
// Both run through [StateStopped], [StateStarting], [StateRunning],
// [StateStopping] and [StateCrashed]. Register an [EventHandler] with
// [WithEventHandler] to observe them.
//
// # Plugins
//
// Node plugins start after the node runtime and stop before it. They get
// a [NodeControl] to act on the node's activities.
package livespace
