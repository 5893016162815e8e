package wire

import (
	"github.com/clustdock/clustdock/pkg/types"
)

// NodeSnapshot is the wire shape of one node, per spec.md §6's
// node-snapshot field list. Kind-specific fields are omitted when zero.
type NodeSnapshot struct {
	Name        string `codec:"name"`
	ClusterName string `codec:"clustername"`
	Idx         int    `codec:"idx"`
	Host        string `codec:"host"`
	IP          string `codec:"ip"`
	Status      int    `codec:"status"`
	Kind        string `codec:"kind"`

	Image      string `codec:"image,omitempty"`
	BaseDomain string `codec:"baseDomain,omitempty"`
	ImgPath    string `codec:"imgPath,omitempty"`
	StorageDir string `codec:"storageDir,omitempty"`
	Mem        int    `codec:"mem,omitempty"`
	CPU        int    `codec:"cpu,omitempty"`

	AddIfaces   []IfaceSnapshot `codec:"addIfaces"`
	BeforeStart string          `codec:"beforeStart"`
	AfterStart  string          `codec:"afterStart"`
	AfterEnd    string          `codec:"afterEnd"`
}

// IfaceSnapshot is the wire shape of types.IfaceSpec.
type IfaceSnapshot struct {
	Bridge  string `codec:"bridge"`
	IfName  string `codec:"ifname"`
	Address string `codec:"address"`
}

// NodeSnapshotFrom converts an internal types.Node into its wire shape.
func NodeSnapshotFrom(n types.Node) NodeSnapshot {
	ifaces := make([]IfaceSnapshot, len(n.AddIfaces))
	for i, ifc := range n.AddIfaces {
		ifaces[i] = IfaceSnapshot{Bridge: ifc.Bridge, IfName: ifc.IfName, Address: ifc.Address}
	}
	return NodeSnapshot{
		Name:        n.Name,
		ClusterName: n.ClusterName,
		Idx:         n.Idx,
		Host:        n.Host,
		IP:          n.IP,
		Status:      int(n.Status),
		Kind:        string(n.Kind),
		Image:       n.Image,
		BaseDomain:  n.BaseDomain,
		ImgPath:     n.ImgPath,
		StorageDir:  n.StorageDir,
		Mem:         n.Mem,
		CPU:         n.CPU,
		AddIfaces:   ifaces,
		BeforeStart: n.BeforeStart,
		AfterStart:  n.AfterStart,
		AfterEnd:    n.AfterEnd,
	}
}

// ListReply is the reply shape for the `list` command: every managed
// host mapped to the node snapshots found on it.
type ListReply struct {
	Hosts map[string][]NodeSnapshot `codec:"hosts"`
}

// NodeSetReply is the reply shape shared by `spawn` and `stop_nodes`: a
// range-compressed nodeset string plus any per-node error messages.
type NodeSetReply struct {
	NodeSet string   `codec:"nodeset"`
	Errors  []string `codec:"errors"`
}

// IPEntry is one (ip, name) pair in a GetIPReply.
type IPEntry struct {
	IP   string `codec:"ip"`
	Name string `codec:"name"`
}

// GetIPReply is the reply shape for `get_ip`.
type GetIPReply struct {
	IPs    []IPEntry `codec:"ips"`
	Errors []string  `codec:"errors"`
}

// ErrorReply is sent standalone for whole-request errors (spec.md §7):
// an empty success value and a single error string, short-circuiting
// before any per-node work runs.
type ErrorReply struct {
	Error string `codec:"error"`
}
