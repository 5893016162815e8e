package worker

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"

	"github.com/clustdock/clustdock/pkg/clusterr"
	"github.com/clustdock/clustdock/pkg/config"
	"github.com/clustdock/clustdock/pkg/fanout"
	"github.com/clustdock/clustdock/pkg/log"
	"github.com/clustdock/clustdock/pkg/metrics"
	"github.com/clustdock/clustdock/pkg/placement"
	"github.com/clustdock/clustdock/pkg/rangeset"
	"github.com/clustdock/clustdock/pkg/runtime"
	"github.com/clustdock/clustdock/pkg/types"
	"github.com/clustdock/clustdock/pkg/wire"
)

// Worker executes one client command end to end: discovery → placement
// → fan-out → aggregation (spec.md §4.5). It owns a ConnectionCache, the
// profile catalog, and the managed-host set; it handles one command at
// a time, so a Dispatcher hands each request to exactly one Worker
// while the client connection stays with the Dispatcher.
type Worker struct {
	cache    *runtime.Cache
	profiles map[string]*types.Profile
	hosts    []string

	// fanoutRun is fanout.Run by default; overridden in tests so a
	// Worker can be exercised without re-exec'ing a real binary.
	fanoutRun func(ctx context.Context, jobs []fanout.Job) []fanout.Result
}

// New builds a Worker over cache, using profiles and the managed hosts
// set. hosts is iterated in map order for listing, and sampled
// uniformly at random when a spawn omits an explicit host.
func New(cache *runtime.Cache, profiles map[string]*types.Profile, hosts map[string]bool) *Worker {
	list := make([]string, 0, len(hosts))
	for h := range hosts {
		list = append(list, h)
	}
	return &Worker{
		cache:     cache,
		profiles:  profiles,
		hosts:     list,
		fanoutRun: fanout.Run,
	}
}

// runFanout runs jobs through w.fanoutRun and records per-job outcome
// counts and duration under op, for whichever operation every job in
// the batch shares.
func (w *Worker) runFanout(ctx context.Context, op fanout.Op, jobs []fanout.Job) []fanout.Result {
	timer := metrics.NewTimer()
	results := w.fanoutRun(ctx, jobs)
	timer.ObserveDurationVec(metrics.FanoutJobDuration, string(op))

	for _, res := range results {
		outcome := "success"
		if res.Err != "" {
			outcome = "error"
		}
		metrics.FanoutJobsTotal.WithLabelValues(string(op), outcome).Inc()
	}
	return results
}

func (w *Worker) driverFor(ctx context.Context, host string, kind types.NodeKind) (runtime.HostDriver, error) {
	if kind == types.KindVM {
		return w.cache.Hypervisor(ctx, host)
	}
	return w.cache.Container(ctx, host)
}

// discover lists every node on every managed host, trying both drivers.
// A host whose driver cannot be opened or probed alive is skipped with
// a warning rather than failing the whole discovery (spec.md §7).
func (w *Worker) discover(ctx context.Context, includeStopped bool) map[string][]types.Node {
	out := make(map[string][]types.Node, len(w.hosts))
	for _, host := range w.hosts {
		var nodes []types.Node

		if cd, err := w.cache.Container(ctx, host); err == nil {
			if ns, err := cd.ListNodes(ctx, includeStopped); err == nil {
				nodes = append(nodes, ns...)
			} else {
				log.WithHost(host).Warn().Err(err).Msg("listing containers failed, skipping")
			}
		} else {
			log.WithHost(host).Warn().Err(err).Msg("container driver unavailable, skipping")
		}

		if hv, err := w.cache.Hypervisor(ctx, host); err == nil {
			if ns, err := hv.ListNodes(ctx, includeStopped); err == nil {
				nodes = append(nodes, ns...)
			} else {
				log.WithHost(host).Warn().Err(err).Msg("listing domains failed, skipping")
			}
		} else {
			log.WithHost(host).Warn().Err(err).Msg("hypervisor driver unavailable, skipping")
		}

		out[host] = nodes
	}
	return out
}

// List aggregates every managed host's node snapshots.
func (w *Worker) List(ctx context.Context, includeStopped bool) (wire.ListReply, error) {
	byHost := w.discover(ctx, includeStopped)
	reply := wire.ListReply{Hosts: make(map[string][]wire.NodeSnapshot, len(byHost))}
	for host, nodes := range byHost {
		snaps := make([]wire.NodeSnapshot, len(nodes))
		for i, n := range nodes {
			snaps[i] = wire.NodeSnapshotFrom(n)
		}
		reply.Hosts[host] = snaps
	}
	return reply, nil
}

// Spawn validates profile and cluster name, discovers existing indices
// for clusterName across every managed host, runs Placement, builds N
// node specs, and fans out their creation.
func (w *Worker) Spawn(ctx context.Context, profileName, clusterName string, n int, host string) (wire.NodeSetReply, error) {
	if !rangeset.ValidClusterName(clusterName) {
		return wire.NodeSetReply{}, clusterr.New(clusterr.InvalidInput, "invalid cluster name "+clusterName)
	}
	profile, ok := w.profiles[profileName]
	if !ok {
		return wire.NodeSetReply{}, clusterr.New(clusterr.InvalidInput, "unknown profile "+profileName)
	}
	if host == "" {
		var err error
		host, err = w.pickHost()
		if err != nil {
			return wire.NodeSetReply{}, err
		}
	} else if !w.isManaged(host) {
		return wire.NodeSetReply{}, clusterr.New(clusterr.InvalidInput, "host "+host+" is not managed")
	}

	existing := rangeset.Set{}
	for _, nodes := range w.discover(ctx, true) {
		for _, node := range nodes {
			cn, idx, hasIdx := rangeset.SplitName(node.Name)
			if cn == clusterName && hasIdx {
				existing[idx] = true
			}
		}
	}

	indices, err := placement.Select(n, existing)
	if err != nil {
		return wire.NodeSetReply{}, err
	}

	var jobs []fanout.Job
	var errs []string
	for _, idx := range indices {
		node, err := nodeFromProfile(profile, clusterName, idx, host)
		if err != nil {
			errs = append(errs, "Error: "+err.Error())
			continue
		}
		jobs = append(jobs, fanout.Job{Op: fanout.OpSpawn, Node: node})
	}

	results := w.runFanout(ctx, fanout.OpSpawn, jobs)
	reply := aggregateResults(results)
	reply.Errors = append(errs, reply.Errors...)
	return reply, nil
}

// StopNodes parses nodeset, discovers which of its names currently
// exist, and fans out a stop per present node. Absent names become
// per-node errors without aborting the rest.
func (w *Worker) StopNodes(ctx context.Context, nodeset string) (wire.NodeSetReply, error) {
	base, indices, err := rangeset.Parse(nodeset)
	if err != nil {
		return wire.NodeSetReply{}, clusterr.Wrap(clusterr.InvalidInput, "invalid nodeset "+nodeset, err)
	}

	byName := w.indexExisting(ctx, true)

	var jobs []fanout.Job
	var errs []string
	for idx := range indices {
		name := rangeset.Name(base, idx)
		node, ok := byName[name]
		if !ok {
			errs = append(errs, fmt.Sprintf("Error: node '%s' does not exist. Skipping", name))
			continue
		}
		jobs = append(jobs, fanout.Job{Op: fanout.OpStop, Node: node})
	}

	results := w.runFanout(ctx, fanout.OpStop, jobs)
	reply := aggregateResults(results)
	reply.Errors = append(errs, reply.Errors...)
	return reply, nil
}

// GetIP discovers running candidates named in nodeset and queries each
// one's IP directly (no fan-out isolation needed: queryIP is a cheap
// read, not a driver mutation that can wedge the process).
func (w *Worker) GetIP(ctx context.Context, nodeset string) (wire.GetIPReply, error) {
	base, indices, err := rangeset.Parse(nodeset)
	if err != nil {
		return wire.GetIPReply{}, clusterr.Wrap(clusterr.InvalidInput, "invalid nodeset "+nodeset, err)
	}

	byName := w.indexExisting(ctx, false)

	reply := wire.GetIPReply{}
	for idx := range indices {
		name := rangeset.Name(base, idx)
		node, ok := byName[name]
		if !ok {
			reply.Errors = append(reply.Errors, fmt.Sprintf("Error: node '%s' does not exist. Skipping", name))
			continue
		}

		driver, err := w.driverFor(ctx, node.Host, node.Kind)
		if err != nil {
			reply.Errors = append(reply.Errors, fmt.Sprintf("Error: host '%s' unreachable for '%s'", node.Host, name))
			continue
		}
		ip, err := driver.QueryIP(ctx, name)
		if err != nil || ip == "" {
			reply.Errors = append(reply.Errors, fmt.Sprintf("Error: could not get ip for '%s'", name))
			continue
		}
		reply.IPs = append(reply.IPs, wire.IPEntry{IP: ip, Name: name})
	}
	return reply, nil
}

func (w *Worker) indexExisting(ctx context.Context, includeStopped bool) map[string]types.Node {
	byName := make(map[string]types.Node)
	for _, nodes := range w.discover(ctx, includeStopped) {
		for _, n := range nodes {
			byName[n.Name] = n
		}
	}
	return byName
}

// Hosts returns the set of managed hosts this Worker was built with, in
// the order New fixed them. Used by the metrics collector and health
// registry, which need to probe each host independently of a request.
func (w *Worker) Hosts() []string {
	return append([]string(nil), w.hosts...)
}

// Cache returns the Worker's ConnectionCache, for callers (the metrics
// collector, the health registry) that need to probe driver liveness
// directly without going through a client request.
func (w *Worker) Cache() *runtime.Cache {
	return w.cache
}

func (w *Worker) isManaged(host string) bool {
	for _, h := range w.hosts {
		if h == host {
			return true
		}
	}
	return false
}

func (w *Worker) pickHost() (string, error) {
	if len(w.hosts) == 0 {
		return "", clusterr.New(clusterr.InvalidInput, "no managed hosts configured")
	}
	return w.hosts[rand.Intn(len(w.hosts))], nil
}

// aggregateResults splits fan-out results into a range-compressed
// success nodeset and an error list, per spec.md §4.5's fan-out
// protocol: child failures never abort siblings.
func aggregateResults(results []fanout.Result) wire.NodeSetReply {
	var succeeded []string
	var errs []string
	for _, r := range results {
		if r.Err == "" {
			succeeded = append(succeeded, r.Name)
		} else {
			errs = append(errs, fmt.Sprintf("Error: %s: %s", r.Name, r.Err))
		}
	}
	return wire.NodeSetReply{NodeSet: rangeset.CompressNames(succeeded), Errors: errs}
}

// nodeFromProfile materializes one types.Node from a profile's merged
// attribute bag for idx, following original_source's VirtualCluster.
// add_node / DockerNode / LibvirtNode kwarg mapping.
func nodeFromProfile(profile *types.Profile, clusterName string, idx int, host string) (types.Node, error) {
	name := rangeset.Name(clusterName, idx)
	rawAttrs := profile.AttrsFor(idx)
	attrs, err := config.ExpandAttrs(rawAttrs, map[string]string{
		"name":        name,
		"idx":         strconv.Itoa(idx),
		"clustername": clusterName,
		"host":        host,
	})
	if err != nil {
		return types.Node{}, clusterr.Wrap(clusterr.InvalidInput, "expanding profile attributes for "+name, err)
	}

	node := types.Node{
		Name:        name,
		ClusterName: clusterName,
		Idx:         idx,
		HasIdx:      true,
		Host:        host,
		Status:      types.StatusCreated,
		Kind:        profile.Kind,
	}

	node.BeforeStart = attrString(attrs, "before_start")
	node.AfterStart = attrString(attrs, "after_start")
	node.AfterEnd = attrString(attrs, "after_end")
	node.AddIfaces = attrIfaces(attrs["add_iface"])

	switch profile.Kind {
	case types.KindVM:
		node.BaseDomain = attrString(attrs, "img")
		node.StorageDir = attrString(attrs, "img_dir")
		node.ImgPath = node.StorageDir + "/" + node.Name + ".qcow2"
		node.Mem = attrInt(attrs, "mem")
		node.CPU = attrInt(attrs, "cpu")
	default:
		node.Image = attrString(attrs, "img")
		node.RunOptions = attrString(attrs, "docker_opts")
	}
	return node, nil
}

func attrString(attrs map[string]interface{}, key string) string {
	v, ok := attrs[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func attrInt(attrs map[string]interface{}, key string) int {
	v, ok := attrs[key]
	if !ok || v == nil {
		return 0
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}

func attrIfaces(v interface{}) []types.IfaceSpec {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		return []types.IfaceSpec{{Bridge: t}}
	case []interface{}:
		out := make([]types.IfaceSpec, 0, len(t))
		for _, item := range t {
			out = append(out, ifaceFromAny(item))
		}
		return out
	default:
		return nil
	}
}

func ifaceFromAny(v interface{}) types.IfaceSpec {
	if s, ok := v.(string); ok {
		return types.IfaceSpec{Bridge: s}
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return types.IfaceSpec{}
	}
	iface := types.IfaceSpec{}
	if b, ok := m["bridge"].(string); ok {
		iface.Bridge = b
	}
	if i, ok := m["ifname"].(string); ok {
		iface.IfName = i
	}
	if a, ok := m["address"].(string); ok {
		iface.Address = a
	}
	return iface
}
