// Package provisioner creates and destroys individual cloud machines.
// It knows nothing about what the machines are for.
package provisioner

import "context"

// Provisioner creates one named machine at a time.
type Provisioner interface {
	CreateNode(ctx context.Context, name, distribution string, metadata map[string]string) (Instance, error)
}

// Instance is one created machine, destroyable exactly by the
// provisioner that created it.
type Instance interface {
	Name() string
	Address() string
	Destroy(ctx context.Context) error
}
