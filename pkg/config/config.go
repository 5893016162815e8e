// Package config loads clustdock's YAML configuration: the managed-host
// set, the profile catalog, listen addresses, worker pool size, and
// per-driver connection settings.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/clustdock/clustdock/pkg/clusterr"
	"github.com/clustdock/clustdock/pkg/rangeset"
	"github.com/clustdock/clustdock/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	ListenAddr  string                `yaml:"listen_addr"`
	MetricsAddr string                `yaml:"metrics_addr"`
	Workers     int                   `yaml:"workers"`
	Hosts       HostSet               `yaml:"hosts"`
	Profiles    map[string]RawProfile `yaml:"profiles"`
	Containerd  ContainerdConfig      `yaml:"containerd"`
	Libvirt     LibvirtConfig         `yaml:"libvirt"`
}

// ContainerdConfig describes how to reach a host's containerd socket.
type ContainerdConfig struct {
	SocketPath string `yaml:"socket_path"`
	Namespace  string `yaml:"namespace"`
}

// LibvirtConfig describes how to reach a host's libvirtd.
type LibvirtConfig struct {
	SSHUser    string `yaml:"ssh_user"`
	SSHKey     string `yaml:"ssh_key"`
	StorageDir string `yaml:"storage_dir"`
}

// HostSet is the managed-host set. It unmarshals from either a single
// comma-separated string or a YAML sequence; each item is itself a
// range expression (spec.md §6), e.g. "host[2-4]".
type HostSet []string

func (h *HostSet) UnmarshalYAML(value *yaml.Node) error {
	var asString string
	if err := value.Decode(&asString); err == nil {
		*h = splitCommaList(asString)
		return nil
	}
	var asList []string
	if err := value.Decode(&asList); err != nil {
		return fmt.Errorf("hosts: expected string or list: %w", err)
	}
	*h = asList
	return nil
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Resolve expands the host set's range expressions into a flat set of
// distinct host names.
func (h HostSet) Resolve() (map[string]bool, error) {
	out := map[string]bool{}
	for _, item := range h {
		base, indices, err := rangeset.Parse(item)
		if err != nil {
			return nil, clusterr.Wrap(clusterr.InvalidInput, "invalid host expression "+item, err)
		}
		if len(indices) == 0 {
			out[base] = true
			continue
		}
		for _, name := range rangeset.Names(base, indices) {
			out[name] = true
		}
	}
	return out, nil
}

// RawProfile is the on-disk shape of one profile catalog entry, before
// override keys are parsed into index sets.
type RawProfile struct {
	Kind      string                            `yaml:"kind"`
	Default   map[string]interface{}            `yaml:"default"`
	Overrides map[string]map[string]interface{} `yaml:"overrides"`
}

// ResolveProfiles resolves every RawProfile in the catalog into a
// *types.Profile, parsing override keys (each a single int or a range
// expression, per original_source's _extract_conf) into concrete index
// sets.
func (c *Config) ResolveProfiles() (map[string]*types.Profile, error) {
	out := make(map[string]*types.Profile, len(c.Profiles))
	for name, raw := range c.Profiles {
		p, err := raw.resolve(name)
		if err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}

func (r RawProfile) resolve(name string) (*types.Profile, error) {
	var kind types.NodeKind
	switch r.Kind {
	case "container":
		kind = types.KindContainer
	case "vm":
		kind = types.KindVM
	default:
		return nil, clusterr.New(clusterr.InvalidInput, "profile "+name+": unknown kind "+r.Kind)
	}

	p := &types.Profile{Name: name, Kind: kind, Default: r.Default}
	for key, attrs := range r.Overrides {
		indices, err := parseOverrideKey(key)
		if err != nil {
			return nil, clusterr.Wrap(clusterr.InvalidInput, "profile "+name+": bad override key "+key, err)
		}
		p.Overrides = append(p.Overrides, types.ProfileOverride{Indices: indices, Attrs: attrs})
	}
	return p, nil
}

// parseOverrideKey accepts either a bare integer ("5") or a range
// expression body ("0-3", "0-3,5").
func parseOverrideKey(key string) (map[int]bool, error) {
	_, indices, err := rangeset.Parse("_[" + key + "]")
	if err != nil {
		return nil, err
	}
	return indices, nil
}

// Load reads and parses the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, clusterr.Wrap(clusterr.InvalidInput, "reading config "+path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, clusterr.Wrap(clusterr.InvalidInput, "parsing config "+path, err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "0.0.0.0:7600"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = "127.0.0.1:7601"
	}
	return &cfg, nil
}

// allowedPlaceholders is the fixed set of template keys a profile's
// string attributes may reference (spec.md §9: "explicit allowed key
// set").
var allowedPlaceholders = map[string]bool{
	"name": true, "idx": true, "clustername": true, "host": true,
}

// ExpandTemplate performs a one-pass brace-substitution of s against
// attrs (keys: name, idx, clustername, host). An unresolved or unknown
// placeholder is a configuration error (spec.md I4: every attribute bag
// passed to NodeBuilder must be template-closed).
func ExpandTemplate(s string, attrs map[string]string) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(s) {
		open := strings.IndexByte(s[i:], '{')
		if open == -1 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+open])
		i += open
		close := strings.IndexByte(s[i:], '}')
		if close == -1 {
			return "", clusterr.New(clusterr.InvalidInput, "unterminated placeholder in "+s)
		}
		key := s[i+1 : i+close]
		if !allowedPlaceholders[key] {
			return "", clusterr.New(clusterr.InvalidInput, "unknown placeholder {"+key+"} in "+s)
		}
		val, ok := attrs[key]
		if !ok {
			return "", clusterr.New(clusterr.InvalidInput, "unresolved placeholder {"+key+"} in "+s)
		}
		b.WriteString(val)
		i += close + 1
	}
	return b.String(), nil
}

// ExpandAttrs walks bag and expands every string value (and every
// string element of a string-slice value) via ExpandTemplate, returning
// a new bag. Non-string values pass through unchanged. This is the Go
// equivalent of original_source's format_dict/format_list.
func ExpandAttrs(bag map[string]interface{}, attrs map[string]string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(bag))
	for k, v := range bag {
		switch val := v.(type) {
		case string:
			expanded, err := ExpandTemplate(val, attrs)
			if err != nil {
				return nil, err
			}
			out[k] = expanded
		case []string:
			expandedList := make([]string, len(val))
			for i, item := range val {
				expanded, err := ExpandTemplate(item, attrs)
				if err != nil {
					return nil, err
				}
				expandedList[i] = expanded
			}
			out[k] = expandedList
		default:
			out[k] = v
		}
	}
	return out, nil
}
