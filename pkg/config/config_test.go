package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostSetResolveString(t *testing.T) {
	h := HostSet{"hostA", "host[2-4]"}
	resolved, err := h.Resolve()
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{
		"hostA": true, "host2": true, "host3": true, "host4": true,
	}, resolved)
}

func TestExpandTemplate(t *testing.T) {
	attrs := map[string]string{"name": "web0", "idx": "0", "clustername": "web", "host": "hostA"}

	got, err := ExpandTemplate("{clustername}-{idx}.{host}", attrs)
	require.NoError(t, err)
	assert.Equal(t, "web-0.hostA", got)
}

func TestExpandTemplateUnknownPlaceholder(t *testing.T) {
	_, err := ExpandTemplate("{bogus}", map[string]string{"name": "web0"})
	require.Error(t, err)
}

func TestExpandTemplateUnresolvedPlaceholder(t *testing.T) {
	_, err := ExpandTemplate("{host}", map[string]string{"name": "web0"})
	require.Error(t, err)
}

func TestLoadAndResolveProfiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clustdock.yaml")
	body := `
listen_addr: "127.0.0.1:9999"
workers: 2
hosts: "hostA,hostB"
profiles:
  docker-prof:
    kind: container
    default:
      image: "debian:bookworm"
    overrides:
      "0-1":
        image: "ubuntu:noble"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)

	profiles, err := cfg.ResolveProfiles()
	require.NoError(t, err)
	require.Contains(t, profiles, "docker-prof")

	p := profiles["docker-prof"]
	assert.Equal(t, "debian:bookworm", p.AttrsFor(5)["image"])
	assert.Equal(t, "ubuntu:noble", p.AttrsFor(0)["image"])
}
