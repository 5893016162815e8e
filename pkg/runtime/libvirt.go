package runtime

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/digitalocean/go-libvirt"
	"golang.org/x/crypto/ssh"

	"github.com/clustdock/clustdock/pkg/clusterr"
	"github.com/clustdock/clustdock/pkg/nodebuilder"
	"github.com/clustdock/clustdock/pkg/types"
)

const (
	// remoteLibvirtSocket is the path libvirtd listens on over its
	// read-write UNIX socket, dialed through an SSH tunnel for remote
	// hosts, mirroring the original's qemu+ssh://host/system URIs.
	remoteLibvirtSocket = "/var/run/libvirt/libvirt-sock"
	localLibvirtSocket  = "/var/run/libvirt/libvirt-sock"

	libvirtDialTimeout = 10 * time.Second
)

// HypervisorDriver implements HostDriver against one host's libvirtd,
// using the pure-Go RPC client so no cgo toolchain is required on the
// daemon host.
type HypervisorDriver struct {
	host       string
	l          *libvirt.Libvirt
	conn       net.Conn
	storageDir string
}

// SSHConfig describes how to reach a remote host's libvirtd over SSH.
type SSHConfig struct {
	User    string
	KeyPath string
}

// NewHypervisorDriver connects to host's libvirtd: over a local UNIX
// socket for "localhost", or through an SSH-tunneled connection to the
// remote libvirtd socket otherwise.
func NewHypervisorDriver(host string, sshCfg SSHConfig, storageDir string) (*HypervisorDriver, error) {
	conn, err := dialLibvirt(host, sshCfg)
	if err != nil {
		return nil, clusterr.Wrap(clusterr.HostUnreachable, "connecting to libvirtd on "+host, err)
	}

	l := libvirt.New(conn)
	if err := l.Connect(); err != nil {
		_ = conn.Close()
		return nil, clusterr.Wrap(clusterr.HostUnreachable, "libvirt handshake with "+host, err)
	}

	return &HypervisorDriver{host: host, l: l, conn: conn, storageDir: storageDir}, nil
}

func dialLibvirt(host string, cfg SSHConfig) (net.Conn, error) {
	if host == "localhost" || host == "" {
		return net.DialTimeout("unix", localLibvirtSocket, libvirtDialTimeout)
	}

	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh key: %w", err)
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         libvirtDialTimeout,
	}
	sshClient, err := ssh.Dial("tcp", net.JoinHostPort(host, "22"), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("dialing ssh %s: %w", host, err)
	}
	conn, err := sshClient.Dial("unix", remoteLibvirtSocket)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("tunneling to libvirtd on %s: %w", host, err)
	}
	return conn, nil
}

func (d *HypervisorDriver) Close() error {
	if d.l != nil {
		_ = d.l.Disconnect()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

func (d *HypervisorDriver) Alive(ctx context.Context) bool {
	_, err := d.l.ConnectGetLibVersion()
	return err == nil
}

// ListNodes enumerates every domain on the host.
func (d *HypervisorDriver) ListNodes(ctx context.Context, includeStopped bool) ([]types.Node, error) {
	domains, _, err := d.l.ConnectListAllDomains(-1, 0)
	if err != nil {
		return nil, clusterr.Wrap(clusterr.DriverError, "listing domains on "+d.host, err)
	}

	var out []types.Node
	for _, dom := range domains {
		status := d.domainStatus(dom)
		if !includeStopped && status == types.StatusStopped {
			continue
		}
		out = append(out, types.Node{
			Name:   dom.Name,
			Host:   d.host,
			Kind:   types.KindVM,
			Status: status,
		})
	}
	return out, nil
}

func (d *HypervisorDriver) domainStatus(dom libvirt.Domain) types.NodeStatus {
	state, _, err := d.l.DomainGetState(dom, 0)
	if err != nil {
		return types.StatusUnknown
	}
	switch state {
	case int32(libvirt.DomainRunning):
		return types.StatusRunning
	case int32(libvirt.DomainPaused):
		return types.StatusPaused
	case int32(libvirt.DomainShutdown):
		return types.StatusShuttingDown
	case int32(libvirt.DomainShutoff):
		return types.StatusStopped
	case int32(libvirt.DomainCrashed):
		return types.StatusCrashed
	default:
		return types.StatusCreated
	}
}

// Start clones the base domain's XML via nodebuilder.Transform, clones
// its disk, injects the hostname, defines and boots the new domain, and
// tags it with the two clustdock metadata namespaces (spec.md §4.3,
// §6), following original_source's libvirt_node.py start().
func (d *HypervisorDriver) Start(ctx context.Context, spec *types.Node) error {
	if _, err := d.l.DomainLookupByName(spec.Name); err == nil {
		return clusterr.New(clusterr.AlreadyExists, "domain "+spec.Name+" already exists")
	}

	baseDom, err := d.l.DomainLookupByName(spec.BaseDomain)
	if err != nil {
		return clusterr.Wrap(clusterr.BaseMissing, "base domain "+spec.BaseDomain+" not found on "+d.host, err)
	}

	baseXML, err := d.l.DomainGetXMLDesc(baseDom, 0)
	if err != nil {
		return clusterr.Wrap(clusterr.DriverError, "reading base domain XML", err)
	}

	newXML, baseimgPath, err := nodebuilder.Transform([]byte(baseXML), spec)
	if err != nil {
		return clusterr.Wrap(clusterr.Internal, "building domain XML for "+spec.Name, err)
	}
	spec.BaseImg = baseimgPath

	cloneCmd := exec.CommandContext(ctx, "qemu-img", "create", "-f", "qcow2", "-b", baseimgPath, spec.ImgPath)
	if out, err := cloneCmd.CombinedOutput(); err != nil {
		return clusterr.Wrap(clusterr.DriverError, "cloning disk for "+spec.Name+": "+string(out), err)
	}
	if err := os.Chmod(spec.ImgPath, 0o644); err != nil {
		d.cleanupDisk(spec.ImgPath)
		return clusterr.Wrap(clusterr.DriverError, "chmod disk for "+spec.Name, err)
	}

	hostnameCmd := exec.CommandContext(ctx, "guestfish", "-i", "-a", spec.ImgPath, "write", "/etc/hostname", spec.Name)
	if out, err := hostnameCmd.CombinedOutput(); err != nil {
		d.cleanupDisk(spec.ImgPath)
		return clusterr.Wrap(clusterr.DriverError, "setting hostname for "+spec.Name+": "+string(out), err)
	}

	dom, err := d.l.DomainDefineXML(string(newXML))
	if err != nil {
		d.cleanupDisk(spec.ImgPath)
		return clusterr.Wrap(clusterr.DriverError, "defining domain "+spec.Name, err)
	}

	if err := d.tagMetadata(dom, spec.AfterEnd); err != nil {
		_ = d.l.DomainUndefine(dom)
		d.cleanupDisk(spec.ImgPath)
		return clusterr.Wrap(clusterr.DriverError, "tagging domain metadata for "+spec.Name, err)
	}

	if err := d.l.DomainCreate(dom); err != nil {
		_ = d.l.DomainUndefine(dom)
		d.cleanupDisk(spec.ImgPath)
		return clusterr.Wrap(clusterr.DriverError, "booting domain "+spec.Name, err)
	}
	return nil
}

func (d *HypervisorDriver) cleanupDisk(path string) {
	_ = os.Remove(path)
}

func (d *HypervisorDriver) tagMetadata(dom libvirt.Domain, afterEndHook string) error {
	const metadataElementType = 2 // VIR_DOMAIN_METADATA_ELEMENT

	if err := d.l.DomainSetMetadata(dom, metadataElementType,
		libvirt.OptString{nodebuilder.MetadataMarker}, libvirt.OptString{},
		libvirt.OptString{nodebuilder.MetadataNamespace}, 0); err != nil {
		return err
	}
	if afterEndHook == "" {
		return nil
	}
	return d.l.DomainSetMetadata(dom, metadataElementType,
		libvirt.OptString{nodebuilder.MetadataAfterEnd(afterEndHook)}, libvirt.OptString{},
		libvirt.OptString{nodebuilder.MetadataAfterEndNamespace}, 0)
}

// Stop reads the after_end metadata, destroys and undefines the domain,
// then deletes its disk image, per spec.md §4.3.
func (d *HypervisorDriver) Stop(ctx context.Context, name string) error {
	dom, err := d.l.DomainLookupByName(name)
	if err != nil {
		return clusterr.New(clusterr.NotFound, "domain "+name+" not found")
	}

	const metadataElementType = 2
	afterEnd, _ := d.l.DomainGetMetadata(dom, metadataElementType,
		libvirt.OptString{nodebuilder.MetadataAfterEndNamespace}, 0)

	state, _, _ := d.l.DomainGetState(dom, 0)
	if state == int32(libvirt.DomainRunning) {
		if err := d.l.DomainDestroy(dom); err != nil {
			return clusterr.Wrap(clusterr.DriverError, "destroying domain "+name, err)
		}
	}
	if err := d.l.DomainUndefine(dom); err != nil {
		return clusterr.Wrap(clusterr.DriverError, "undefining domain "+name, err)
	}

	imgPath := d.storageDir + "/" + name + ".qcow2"
	_ = os.Remove(imgPath)

	if hook := parseAfterEndPath(afterEnd); hook != "" {
		if out, err := exec.CommandContext(ctx, hook, name, string(types.KindVM), d.host).CombinedOutput(); err != nil {
			return clusterr.Wrap(clusterr.HookFailed, "after_end hook for "+name+": "+string(out), err)
		}
	}
	return nil
}

// parseAfterEndPath extracts the path attribute from a
// <after_end path="..."/> metadata blob. Best-effort: an empty or
// malformed blob yields an empty hook path, treated as "no hook".
func parseAfterEndPath(metadataXML string) string {
	const marker = `path="`
	i := strings.Index(metadataXML, marker)
	if i == -1 {
		return ""
	}
	rest := metadataXML[i+len(marker):]
	j := strings.IndexByte(rest, '"')
	if j == -1 {
		return ""
	}
	return rest[:j]
}

// QueryIP resolves a domain's IP by reading its primary interface's MAC
// address from its live XML description and looking it up in the host's
// ARP/neighbor table, as original_source's libvirt_node.py get_ip does.
func (d *HypervisorDriver) QueryIP(ctx context.Context, name string) (string, error) {
	dom, err := d.l.DomainLookupByName(name)
	if err != nil {
		return "", clusterr.New(clusterr.NotFound, "domain "+name+" not found")
	}

	xmlDesc, err := d.l.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return "", clusterr.Wrap(clusterr.DriverError, "reading domain XML for "+name, err)
	}
	mac := firstMacAddress(xmlDesc)
	if mac == "" {
		return "", nil
	}

	for retry := 0; retry < 20; retry++ {
		out, err := exec.CommandContext(ctx, "ip", "neigh").CombinedOutput()
		if err == nil {
			for _, line := range strings.Split(string(out), "\n") {
				if strings.Contains(line, mac) {
					fields := strings.Fields(line)
					if len(fields) > 0 {
						return fields[0], nil
					}
				}
			}
		}
		time.Sleep(2 * time.Second)
	}
	return "", nil
}

func firstMacAddress(xmlDesc string) string {
	const marker = `address="`
	i := strings.Index(xmlDesc, "<mac ")
	if i == -1 {
		return ""
	}
	rest := xmlDesc[i:]
	j := strings.Index(rest, marker)
	if j == -1 {
		return ""
	}
	rest = rest[j+len(marker):]
	k := strings.IndexByte(rest, '"')
	if k == -1 {
		return ""
	}
	return rest[:k]
}
