package nodebuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clustdock/clustdock/pkg/types"
)

func TestBuildContainerSpecDefaults(t *testing.T) {
	n := &types.Node{Name: "web0", Image: "debian:bookworm"}
	spec := BuildContainerSpec(n)

	assert.Equal(t, "web0", spec.Name)
	assert.Equal(t, "web0", spec.Hostname)
	assert.Equal(t, "debian:bookworm", spec.Image)
	assert.Equal(t, []string{"NET_RAW", "NET_ADMIN"}, spec.Capabilities)
	assert.Empty(t, spec.ExtraArgs)
}

func TestBuildContainerSpecSplitsRunOptions(t *testing.T) {
	n := &types.Node{Name: "web1", Image: "debian:bookworm", RunOptions: "--privileged --cpus 2"}
	spec := BuildContainerSpec(n)

	assert.Equal(t, []string{"--privileged", "--cpus", "2"}, spec.ExtraArgs)
}

func TestVethNameIsDeterministicAndDistinctPerIndex(t *testing.T) {
	host0, ns0 := VethName("web0", 0)
	host1, ns1 := VethName("web0", 1)

	assert.NotEqual(t, host0, host1)
	assert.NotEqual(t, ns0, ns1)

	host0Again, ns0Again := VethName("web0", 0)
	assert.Equal(t, host0, host0Again)
	assert.Equal(t, ns0, ns0Again)
}

func TestVethNameTruncatesLongContainerNames(t *testing.T) {
	host, ns := VethName("a-very-long-cluster-name", 3)
	assert.LessOrEqual(t, len(host), 15)
	assert.LessOrEqual(t, len(ns), 15)
}
