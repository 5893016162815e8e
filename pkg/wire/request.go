package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/clustdock/clustdock/pkg/clusterr"
)

// Verb names the four commands the wire protocol supports (spec.md §6).
type Verb string

const (
	VerbList      Verb = "list"
	VerbSpawn     Verb = "spawn"
	VerbStopNodes Verb = "stop_nodes"
	VerbGetIP     Verb = "get_ip"
)

// Request is a parsed client command. Only the fields relevant to Verb
// are populated.
type Request struct {
	Verb Verb

	// list
	IncludeAll bool

	// spawn
	Profile     string
	ClusterName string
	Count       int
	Host        string // "" means "pick at random"

	// stop_nodes, get_ip
	NodeSet string
}

// ParseRequest decodes one whitespace-split request line, per spec.md
// §6's text wire format.
func ParseRequest(line string) (*Request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, clusterr.New(clusterr.InvalidInput, "empty request")
	}

	switch Verb(fields[0]) {
	case VerbList:
		if len(fields) != 2 {
			return nil, clusterr.New(clusterr.InvalidInput, "list requires exactly one bool argument")
		}
		include, err := parseBool(fields[1])
		if err != nil {
			return nil, err
		}
		return &Request{Verb: VerbList, IncludeAll: include}, nil

	case VerbSpawn:
		if len(fields) != 4 && len(fields) != 5 {
			return nil, clusterr.New(clusterr.InvalidInput, "spawn requires profile, clustername, n and an optional host")
		}
		n, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, clusterr.Wrap(clusterr.InvalidInput, "spawn count must be an integer", err)
		}
		host := ""
		if len(fields) == 5 && fields[4] != "None" {
			host = fields[4]
		}
		return &Request{
			Verb:        VerbSpawn,
			Profile:     fields[1],
			ClusterName: fields[2],
			Count:       n,
			Host:        host,
		}, nil

	case VerbStopNodes:
		if len(fields) != 2 {
			return nil, clusterr.New(clusterr.InvalidInput, "stop_nodes requires exactly one nodeset argument")
		}
		return &Request{Verb: VerbStopNodes, NodeSet: fields[1]}, nil

	case VerbGetIP:
		if len(fields) != 2 {
			return nil, clusterr.New(clusterr.InvalidInput, "get_ip requires exactly one nodeset argument")
		}
		return &Request{Verb: VerbGetIP, NodeSet: fields[1]}, nil

	default:
		return nil, clusterr.New(clusterr.InvalidInput, "unknown command "+fields[0])
	}
}

func parseBool(s string) (bool, error) {
	switch s {
	case "True":
		return true, nil
	case "False":
		return false, nil
	default:
		return false, clusterr.New(clusterr.InvalidInput, fmt.Sprintf("expected True or False, got %q", s))
	}
}

// String renders a Request back into its wire text form, used by
// pkg/client to build outgoing requests.
func (r *Request) String() string {
	switch r.Verb {
	case VerbList:
		b := "False"
		if r.IncludeAll {
			b = "True"
		}
		return string(VerbList) + " " + b
	case VerbSpawn:
		host := "None"
		if r.Host != "" {
			host = r.Host
		}
		return fmt.Sprintf("%s %s %s %d %s", VerbSpawn, r.Profile, r.ClusterName, r.Count, host)
	case VerbStopNodes:
		return string(VerbStopNodes) + " " + r.NodeSet
	case VerbGetIP:
		return string(VerbGetIP) + " " + r.NodeSet
	default:
		return ""
	}
}
