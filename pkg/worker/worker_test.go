package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clustdock/clustdock/pkg/fanout"
	"github.com/clustdock/clustdock/pkg/runtime"
	"github.com/clustdock/clustdock/pkg/types"
)

type fakeDriver struct {
	nodes   []types.Node
	ips     map[string]string
	alive   bool
	listErr error
}

func (f *fakeDriver) ListNodes(ctx context.Context, includeStopped bool) ([]types.Node, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.nodes, nil
}
func (f *fakeDriver) Start(ctx context.Context, spec *types.Node) error { return nil }
func (f *fakeDriver) Stop(ctx context.Context, name string) error      { return nil }
func (f *fakeDriver) QueryIP(ctx context.Context, name string) (string, error) {
	return f.ips[name], nil
}
func (f *fakeDriver) Alive(ctx context.Context) bool { return true }
func (f *fakeDriver) Close() error                   { return nil }

func newTestWorker(containerNodes []types.Node, hosts map[string]bool) *Worker {
	cache := runtime.NewCache(
		func(ctx context.Context, host string) (runtime.HostDriver, error) {
			return &fakeDriver{nodes: containerNodes}, nil
		},
		func(ctx context.Context, host string) (runtime.HostDriver, error) {
			return &fakeDriver{}, nil
		},
	)
	profiles := map[string]*types.Profile{
		"docker-prof": {Name: "docker-prof", Kind: types.KindContainer, Default: map[string]interface{}{
			"img": "debian:bookworm",
		}},
	}
	return New(cache, profiles, hosts)
}

func TestSpawnNoExistingGapFilling(t *testing.T) {
	w := newTestWorker(nil, map[string]bool{"hostA": true})
	w.fanoutRun = func(ctx context.Context, jobs []fanout.Job) []fanout.Result {
		results := make([]fanout.Result, len(jobs))
		for i, j := range jobs {
			results[i] = fanout.Result{Name: j.Node.Name}
		}
		return results
	}

	reply, err := w.Spawn(context.Background(), "docker-prof", "web", 3, "hostA")
	require.NoError(t, err)
	assert.Equal(t, "web[0-2]", reply.NodeSet)
	assert.Empty(t, reply.Errors)
}

func TestSpawnUnknownProfile(t *testing.T) {
	w := newTestWorker(nil, map[string]bool{"hostA": true})
	_, err := w.Spawn(context.Background(), "nope", "web", 1, "hostA")
	assert.Error(t, err)
}

func TestSpawnInvalidClusterName(t *testing.T) {
	w := newTestWorker(nil, map[string]bool{"hostA": true})
	_, err := w.Spawn(context.Background(), "docker-prof", "1web", 1, "hostA")
	assert.Error(t, err)
}

func TestSpawnUnmanagedHost(t *testing.T) {
	w := newTestWorker(nil, map[string]bool{"hostA": true})
	_, err := w.Spawn(context.Background(), "docker-prof", "web", 1, "hostZ")
	assert.Error(t, err)
}

func TestSpawnPartialFailureReportsErrors(t *testing.T) {
	w := newTestWorker(nil, map[string]bool{"hostA": true})
	w.fanoutRun = func(ctx context.Context, jobs []fanout.Job) []fanout.Result {
		results := make([]fanout.Result, len(jobs))
		for i, j := range jobs {
			if j.Node.Idx == 1 {
				results[i] = fanout.Result{Name: j.Node.Name, Err: "AlreadyExists"}
			} else {
				results[i] = fanout.Result{Name: j.Node.Name}
			}
		}
		return results
	}

	reply, err := w.Spawn(context.Background(), "docker-prof", "web", 3, "hostA")
	require.NoError(t, err)
	assert.Equal(t, "web[0,2]", reply.NodeSet)
	require.Len(t, reply.Errors, 1)
}

func TestSpawnGapFillingWithExisting(t *testing.T) {
	existing := []types.Node{
		{Name: "web0"}, {Name: "web1"}, {Name: "web2"}, {Name: "web5"},
	}
	w := newTestWorker(existing, map[string]bool{"hostA": true})
	w.fanoutRun = func(ctx context.Context, jobs []fanout.Job) []fanout.Result {
		results := make([]fanout.Result, len(jobs))
		for i, j := range jobs {
			results[i] = fanout.Result{Name: j.Node.Name}
		}
		return results
	}

	reply, err := w.Spawn(context.Background(), "docker-prof", "web", 2, "hostA")
	require.NoError(t, err)
	assert.Equal(t, "web[3-4]", reply.NodeSet)
}

func TestStopNodesMissingBecomesError(t *testing.T) {
	existing := []types.Node{{Name: "web0"}}
	w := newTestWorker(existing, map[string]bool{"hostA": true})
	w.fanoutRun = func(ctx context.Context, jobs []fanout.Job) []fanout.Result {
		results := make([]fanout.Result, len(jobs))
		for i, j := range jobs {
			results[i] = fanout.Result{Name: j.Node.Name}
		}
		return results
	}

	reply, err := w.StopNodes(context.Background(), "web[0-1]")
	require.NoError(t, err)
	assert.Equal(t, "web0", reply.NodeSet)
	require.Len(t, reply.Errors, 1)
}

func TestGetIPReportsMissingAndEmpty(t *testing.T) {
	existing := []types.Node{{Name: "web0", Host: "hostA"}}
	w := newTestWorker(existing, map[string]bool{"hostA": true})

	reply, err := w.GetIP(context.Background(), "web[0-1]")
	require.NoError(t, err)
	require.Len(t, reply.Errors, 2)
}

func TestListAggregatesByHost(t *testing.T) {
	existing := []types.Node{{Name: "web0"}}
	w := newTestWorker(existing, map[string]bool{"hostA": true})

	reply, err := w.List(context.Background(), true)
	require.NoError(t, err)
	require.Contains(t, reply.Hosts, "hostA")
	assert.NotEmpty(t, reply.Hosts["hostA"])
}
