// Package runtime provides the two HostDriver bindings (container and
// hypervisor) and the ConnectionCache that keeps their handles alive
// per managed host.
package runtime

import (
	"context"

	"github.com/clustdock/clustdock/pkg/types"
)

// HostDriver is the capability set a Worker drives per host, per
// spec.md §4.3. Both the container and hypervisor bindings implement it.
type HostDriver interface {
	// ListNodes enumerates every node the driver knows about on its
	// host, including status and kind-specific source information.
	ListNodes(ctx context.Context, includeStopped bool) ([]types.Node, error)

	// Start materializes spec under its name. Fails with
	// clusterr.AlreadyExists if a node with the name exists and is not
	// stopped, or clusterr.BaseMissing if the base image/domain is
	// unknown. A stopped node of the same name is not replaced: the
	// hypervisor binding fails with AlreadyExists for any existing
	// domain, and the container binding fails with a DriverError when
	// creating the container.
	Start(ctx context.Context, spec *types.Node) error

	// Stop force-destroys and undefines name. Idempotent; stopping a
	// missing node returns a clusterr.NotFound error, which fan-out
	// reports but does not treat as fatal.
	Stop(ctx context.Context, name string) error

	// QueryIP returns the first globally scoped IPv4 address for name,
	// or "" if not yet known.
	QueryIP(ctx context.Context, name string) (string, error)

	// Alive is a cheap health probe; false causes the ConnectionCache to
	// reopen this driver.
	Alive(ctx context.Context) bool

	// Close releases the driver's underlying connection.
	Close() error
}
