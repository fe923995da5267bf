package ports

import (
	"github.com/bft-labs/livespace/pkg/lifecycle"
	"github.com/bft-labs/livespace/pkg/roster"
)

// HostedFactory builds the hosted code for an installed activity,
// choosing the hosting variant from the record's type tag.
type HostedFactory interface {
	New(rec roster.InstalledLiveActivity) (lifecycle.Hosted, error)
}

// HostedFactoryFunc adapts a function to HostedFactory.
type HostedFactoryFunc func(rec roster.InstalledLiveActivity) (lifecycle.Hosted, error)

func (f HostedFactoryFunc) New(rec roster.InstalledLiveActivity) (lifecycle.Hosted, error) {
	return f(rec)
}
