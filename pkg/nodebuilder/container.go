package nodebuilder

import (
	"fmt"
	"strings"

	"github.com/clustdock/clustdock/pkg/types"
)

// ContainerSpec is the concrete argument set the container HostDriver
// needs to create a node: the equivalent, for container kind, of the
// transformed domain XML for VM kind.
type ContainerSpec struct {
	Name         string
	Hostname     string
	Image        string
	Capabilities []string
	ExtraArgs    []string
}

// BuildContainerSpec composes the create arguments for a container node
// from its attribute bag (spec.md §4.3: "name, hostname, capabilities
// {NET_RAW, NET_ADMIN}, user options, image").
func BuildContainerSpec(n *types.Node) *ContainerSpec {
	spec := &ContainerSpec{
		Name:         n.Name,
		Hostname:     n.Name,
		Image:        n.Image,
		Capabilities: []string{"NET_RAW", "NET_ADMIN"},
	}
	if n.RunOptions != "" {
		spec.ExtraArgs = strings.Fields(n.RunOptions)
	}
	return spec
}

// IfaceAttachMode chooses how an extra interface is attached to a
// running container, matching original_source's docker_node.py
// _add_iface: OVS-managed bridges get a direct ovs-docker attach, any
// other bridge falls back to manual veth plumbing.
type IfaceAttachMode int

const (
	AttachOVS IfaceAttachMode = iota
	AttachVethFallback
)

// VethName derives a deterministic, interface-length-safe veth pair name
// for the fallback attachment path.
func VethName(containerName string, ifaceIdx int) (hostSide, nsSide string) {
	base := fmt.Sprintf("%.6s%d", containerName, ifaceIdx)
	return "v" + base + "h", "v" + base + "c"
}
