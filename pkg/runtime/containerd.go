package runtime

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"

	"github.com/clustdock/clustdock/pkg/clusterr"
	"github.com/clustdock/clustdock/pkg/nodebuilder"
	"github.com/clustdock/clustdock/pkg/types"
)

const (
	// Namespace is the containerd namespace clustdock creates all of its
	// nodes in, keeping them separate from anything else running on a
	// shared host.
	Namespace = "clustdock"

	// DefaultSocketPath is the default containerd socket on a managed
	// host.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	stopTimeout = 10 * time.Second
)

// ContainerDriver implements HostDriver against one host's containerd
// socket, adapted from the teacher's ContainerdRuntime.
type ContainerDriver struct {
	host   string
	client *containerd.Client
}

// NewContainerDriver dials host's containerd socket. addr is typically a
// local UNIX socket path or, for a remote host, a TCP-forwarded
// containerd endpoint set up by the caller.
func NewContainerDriver(host, addr string) (*ContainerDriver, error) {
	if addr == "" {
		addr = DefaultSocketPath
	}
	client, err := containerd.New(addr)
	if err != nil {
		return nil, clusterr.Wrap(clusterr.HostUnreachable, "connecting to containerd on "+host, err)
	}
	return &ContainerDriver{host: host, client: client}, nil
}

func (d *ContainerDriver) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, Namespace)
}

func (d *ContainerDriver) Close() error {
	if d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *ContainerDriver) Alive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := d.client.Version(d.ctx(ctx))
	return err == nil
}

// ListNodes enumerates containers in the clustdock namespace.
func (d *ContainerDriver) ListNodes(ctx context.Context, includeStopped bool) ([]types.Node, error) {
	ctx = d.ctx(ctx)
	containers, err := d.client.Containers(ctx)
	if err != nil {
		return nil, clusterr.Wrap(clusterr.DriverError, "listing containers on "+d.host, err)
	}

	var out []types.Node
	for _, c := range containers {
		status := d.statusOf(ctx, c)
		if !includeStopped && status == types.StatusStopped {
			continue
		}
		info, err := c.Info(ctx)
		image := ""
		if err == nil {
			image = info.Image
		}
		out = append(out, types.Node{
			Name:   c.ID(),
			Host:   d.host,
			Kind:   types.KindContainer,
			Status: status,
			Image:  image,
		})
	}
	return out, nil
}

func (d *ContainerDriver) statusOf(ctx context.Context, c containerd.Container) types.NodeStatus {
	task, err := c.Task(ctx, nil)
	if err != nil {
		return types.StatusCreated
	}
	st, err := task.Status(ctx)
	if err != nil {
		return types.StatusUnknown
	}
	switch st.Status {
	case containerd.Running:
		return types.StatusRunning
	case containerd.Paused:
		return types.StatusPaused
	case containerd.Stopped:
		if st.ExitStatus == 0 {
			return types.StatusStopped
		}
		return types.StatusCrashed
	default:
		return types.StatusUnknown
	}
}

// Start creates and runs a container for spec with its name, hostname,
// NET_RAW/NET_ADMIN capabilities and image. The user run options
// (spec.RunOptions, split into ContainerSpec.ExtraArgs) are not applied
// to the container.
func (d *ContainerDriver) Start(ctx context.Context, spec *types.Node) error {
	ctx = d.ctx(ctx)

	if existing, err := d.client.LoadContainer(ctx, spec.Name); err == nil {
		status := d.statusOf(ctx, existing)
		if status != types.StatusStopped {
			return clusterr.New(clusterr.AlreadyExists, "container "+spec.Name+" already exists")
		}
	}

	image, err := d.client.GetImage(ctx, spec.Image)
	if err != nil {
		image, err = d.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
		if err != nil {
			return clusterr.Wrap(clusterr.BaseMissing, "image "+spec.Image+" unavailable on "+d.host, err)
		}
	}

	cspec := nodebuilder.BuildContainerSpec(spec)
	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithHostname(cspec.Hostname),
		oci.WithAddedCapabilities(cspec.Capabilities),
	}

	ctrdContainer, err := d.client.NewContainer(
		ctx,
		spec.Name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.Name+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return clusterr.Wrap(clusterr.DriverError, "creating container "+spec.Name, err)
	}

	task, err := ctrdContainer.NewTask(ctx, cio.NullIO)
	if err != nil {
		_ = ctrdContainer.Delete(ctx, containerd.WithSnapshotCleanup)
		return clusterr.Wrap(clusterr.DriverError, "creating task for "+spec.Name, err)
	}
	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx)
		_ = ctrdContainer.Delete(ctx, containerd.WithSnapshotCleanup)
		return clusterr.Wrap(clusterr.DriverError, "starting task for "+spec.Name, err)
	}

	for i, iface := range spec.AddIfaces {
		if err := d.addIface(ctx, spec.Name, i, iface); err != nil {
			return clusterr.Wrap(clusterr.DriverError, "attaching interface to "+spec.Name, err)
		}
	}
	return nil
}

// addIface attaches an extra network interface to a running container,
// following original_source's docker_node.py _add_iface: an OVS-managed
// bridge gets a direct ovs-docker attach; any other bridge falls back to
// manual veth creation, attachment to the host bridge via brctl, and a
// move into the container's network namespace.
func (d *ContainerDriver) addIface(ctx context.Context, name string, idx int, iface types.IfaceSpec) error {
	isOVS := exec.CommandContext(ctx, "ovs-vsctl", "br-exists", iface.Bridge).Run() == nil
	if isOVS {
		args := []string{"add-port", iface.Bridge, iface.IfName, name}
		if iface.Address != "" && iface.Address != "dhcp" {
			args = append(args, "--ipaddress="+iface.Address)
		}
		out, err := exec.CommandContext(ctx, "ovs-docker", args...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("ovs-docker add-port failed: %s: %w", string(out), err)
		}
		return nil
	}

	pid, err := d.containerPID(ctx, name)
	if err != nil {
		return err
	}
	hostSide, nsSide := nodebuilder.VethName(name, idx)
	netns := strconv.Itoa(pid)
	steps := [][]string{
		{"mkdir", "-p", "/var/run/netns"},
		{"ln", "-sf", "/proc/" + netns + "/ns/net", "/var/run/netns/" + netns},
		{"ip", "link", "add", hostSide, "type", "veth", "peer", "name", nsSide},
		{"brctl", "addif", iface.Bridge, hostSide},
		{"ip", "link", "set", hostSide, "up"},
		{"ip", "link", "set", nsSide, "netns", netns},
		{"ip", "netns", "exec", netns, "ip", "link", "set", "dev", nsSide, "name", iface.IfName},
		{"ip", "netns", "exec", netns, "ip", "link", "set", iface.IfName, "up"},
		{"rm", "-f", "/var/run/netns/" + netns},
	}
	for _, args := range steps {
		out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s: %s: %w", strings.Join(args, " "), string(out), err)
		}
	}
	return nil
}

func (d *ContainerDriver) containerPID(ctx context.Context, name string) (int, error) {
	c, err := d.client.LoadContainer(ctx, name)
	if err != nil {
		return 0, err
	}
	task, err := c.Task(ctx, nil)
	if err != nil {
		return 0, err
	}
	pid := task.Pid()
	if pid == 0 {
		return 0, fmt.Errorf("container %s task has no pid", name)
	}
	return int(pid), nil
}

// Stop force-destroys and removes a container and its snapshot.
func (d *ContainerDriver) Stop(ctx context.Context, name string) error {
	ctx = d.ctx(ctx)

	c, err := d.client.LoadContainer(ctx, name)
	if err != nil {
		return clusterr.New(clusterr.NotFound, "container "+name+" not found")
	}

	if task, err := c.Task(ctx, nil); err == nil {
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		if err := task.Kill(stopCtx, syscall.SIGTERM); err == nil {
			statusC, werr := task.Wait(stopCtx)
			if werr == nil {
				select {
				case <-statusC:
				case <-stopCtx.Done():
					_ = task.Kill(ctx, syscall.SIGKILL)
				}
			}
		}
		cancel()
		_, _ = task.Delete(ctx)
	}

	if err := c.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return clusterr.Wrap(clusterr.DriverError, "deleting container "+name, err)
	}
	return nil
}

// QueryIP returns the container's first globally scoped IPv4 address,
// found by entering its network namespace via nsenter.
func (d *ContainerDriver) QueryIP(ctx context.Context, name string) (string, error) {
	ctx = d.ctx(ctx)
	pid, err := d.containerPID(ctx, name)
	if err != nil {
		return "", nil
	}

	out, err := exec.CommandContext(ctx, "nsenter", "-t", strconv.Itoa(pid), "-n",
		"ip", "-4", "addr", "show", "scope", "global").CombinedOutput()
	if err != nil {
		return "", clusterr.Wrap(clusterr.DriverError, "querying IP for "+name, err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "inet ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ip, _, err := net.ParseCIDR(fields[1])
		if err != nil {
			continue
		}
		return ip.String(), nil
	}
	return "", nil
}
