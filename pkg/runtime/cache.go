package runtime

import (
	"context"
	"sync"

	"github.com/clustdock/clustdock/pkg/log"
)

// handles is the pair of driver handles a ConnectionCache keeps per
// host (spec.md §4.7).
type handles struct {
	container  HostDriver
	hypervisor HostDriver
}

// Factory opens a fresh HostDriver for a given host. ConnectionCache
// calls these lazily on first use and again whenever Alive reports
// false.
type Factory func(ctx context.Context, host string) (HostDriver, error)

// Cache is a per-Worker map from host identifier to its container and
// hypervisor driver handles. Each Worker the daemon builds gets its own
// Cache; every method holds the Cache's mutex, so the health checks and
// the metrics collector can probe a Worker's Cache while that Worker
// serves requests.
type Cache struct {
	mu             sync.Mutex
	byHost         map[string]*handles
	newContainer   Factory
	newHypervisor  Factory
}

// NewCache builds a ConnectionCache using the given driver factories.
func NewCache(newContainer, newHypervisor Factory) *Cache {
	return &Cache{
		byHost:        make(map[string]*handles),
		newContainer:  newContainer,
		newHypervisor: newHypervisor,
	}
}

// Container returns the container HostDriver for host, (re)creating it
// if absent or no longer alive.
func (c *Cache) Container(ctx context.Context, host string) (HostDriver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.byHost[host]
	if !ok {
		h = &handles{}
		c.byHost[host] = h
	}
	if h.container != nil && h.container.Alive(ctx) {
		return h.container, nil
	}
	if h.container != nil {
		log.WithHost(host).Warn().Msg("container driver no longer alive, reopening")
		_ = h.container.Close()
	}
	d, err := c.newContainer(ctx, host)
	if err != nil {
		return nil, err
	}
	h.container = d
	return d, nil
}

// Hypervisor returns the hypervisor HostDriver for host, (re)creating it
// if absent or no longer alive.
func (c *Cache) Hypervisor(ctx context.Context, host string) (HostDriver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.byHost[host]
	if !ok {
		h = &handles{}
		c.byHost[host] = h
	}
	if h.hypervisor != nil && h.hypervisor.Alive(ctx) {
		return h.hypervisor, nil
	}
	if h.hypervisor != nil {
		log.WithHost(host).Warn().Msg("hypervisor driver no longer alive, reopening")
		_ = h.hypervisor.Close()
	}
	d, err := c.newHypervisor(ctx, host)
	if err != nil {
		return nil, err
	}
	h.hypervisor = d
	return d, nil
}

// Close releases every cached driver handle.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.byHost {
		if h.container != nil {
			_ = h.container.Close()
		}
		if h.hypervisor != nil {
			_ = h.hypervisor.Close()
		}
	}
	c.byHost = make(map[string]*handles)
}
