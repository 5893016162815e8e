package fanout

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clustdock/clustdock/pkg/types"
)

// TestMain lets the compiled test binary double as the fan-out child:
// when invoked with ChildFlag, it runs Main against a fixed executor
// instead of the normal go test driver, mirroring how cmd/clustdockd's
// main() branches on IsChildInvocation.
func TestMain(m *testing.M) {
	if IsChildInvocation() {
		Main(testExecutor)
		return
	}
	os.Exit(m.Run())
}

func testExecutor(ctx context.Context, job Job) Result {
	switch job.Node.Name {
	case "fail0":
		return Result{Name: job.Node.Name, Err: "driver exploded"}
	default:
		ip := "10.0.0.1"
		if job.Op == OpStop {
			ip = ""
		}
		return Result{Name: job.Node.Name, IP: ip}
	}
}

func TestRunSuccess(t *testing.T) {
	jobs := []Job{
		{Op: OpSpawn, Node: types.Node{Name: "web0"}},
		{Op: OpSpawn, Node: types.Node{Name: "web1"}},
	}
	results := Run(context.Background(), jobs)
	require.Len(t, results, 2)
	assert.Equal(t, "web0", results[0].Name)
	assert.Equal(t, "10.0.0.1", results[0].IP)
	assert.Empty(t, results[0].Err)
	assert.Equal(t, "web1", results[1].Name)
}

func TestRunPartialFailureIsolated(t *testing.T) {
	jobs := []Job{
		{Op: OpSpawn, Node: types.Node{Name: "web0"}},
		{Op: OpSpawn, Node: types.Node{Name: "fail0"}},
		{Op: OpSpawn, Node: types.Node{Name: "web2"}},
	}
	results := Run(context.Background(), jobs)
	require.Len(t, results, 3)
	assert.Empty(t, results[0].Err)
	assert.Equal(t, "driver exploded", results[1].Err)
	assert.Empty(t, results[2].Err)
}

func TestIsChildInvocation(t *testing.T) {
	old := os.Args
	defer func() { os.Args = old }()

	os.Args = []string{"clustdockd"}
	assert.False(t, IsChildInvocation())

	os.Args = []string{"clustdockd", ChildFlag}
	assert.True(t, IsChildInvocation())
}
