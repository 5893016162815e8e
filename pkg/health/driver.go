package health

import (
	"context"
	"fmt"
	"time"

	"github.com/clustdock/clustdock/pkg/runtime"
	"github.com/clustdock/clustdock/pkg/types"
)

// probeFunc opens (or reuses) a HostDriver for host and returns it or
// the error from opening it; the cache checks Alive before reusing a
// handle. Both Cache.Container and Cache.Hypervisor satisfy this shape
// once their receiver is bound.
type probeFunc func(ctx context.Context, host string) (runtime.HostDriver, error)

// DriverChecker checks whether a ConnectionCache can still reach one
// managed host's driver, for either a container or hypervisor backend.
type DriverChecker struct {
	Host  string
	Kind  types.NodeKind
	probe probeFunc
}

// NewDriverChecker builds a DriverChecker for host backed by cache's
// driver for kind.
func NewDriverChecker(cache *runtime.Cache, host string, kind types.NodeKind) *DriverChecker {
	d := &DriverChecker{Host: host, Kind: kind}
	if kind == types.KindVM {
		d.probe = cache.Hypervisor
	} else {
		d.probe = cache.Container
	}
	return d
}

// Check opens the host's driver and reports whether it answers Alive.
func (d *DriverChecker) Check(ctx context.Context) Result {
	start := time.Now()

	driver, err := d.probe(ctx, d.Host)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("%s (%s): %v", d.Host, d.Kind, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	healthy := driver.Alive(ctx)
	message := fmt.Sprintf("%s (%s): reachable", d.Host, d.Kind)
	if !healthy {
		message = fmt.Sprintf("%s (%s): not reachable", d.Host, d.Kind)
	}

	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type.
func (d *DriverChecker) Type() CheckType {
	return CheckTypeDriver
}
