package filecontrol

import "github.com/bft-labs/livespace/pkg/livespace"

// WithFileControl returns a node Option that enables the control
// directory.
//
//	n, err := livespace.NewNode(cfg, filecontrol.WithFileControl(filecontrol.DefaultConfig()))
func WithFileControl(cfg Config) livespace.Option {
	return livespace.WithPlugin(New(cfg))
}
