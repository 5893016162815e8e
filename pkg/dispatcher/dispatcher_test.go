package dispatcher

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clustdock/clustdock/pkg/runtime"
	"github.com/clustdock/clustdock/pkg/types"
	"github.com/clustdock/clustdock/pkg/wire"
	"github.com/clustdock/clustdock/pkg/worker"
)

type fakeDriver struct{}

func (f *fakeDriver) ListNodes(ctx context.Context, includeStopped bool) ([]types.Node, error) {
	return []types.Node{{Name: "web0", Host: "hostA"}}, nil
}
func (f *fakeDriver) Start(ctx context.Context, spec *types.Node) error { return nil }
func (f *fakeDriver) Stop(ctx context.Context, name string) error      { return nil }
func (f *fakeDriver) QueryIP(ctx context.Context, name string) (string, error) {
	return "10.0.0.5", nil
}
func (f *fakeDriver) Alive(ctx context.Context) bool { return true }
func (f *fakeDriver) Close() error                   { return nil }

func testWorkers(t *testing.T, n int) []*worker.Worker {
	t.Helper()
	cache := runtime.NewCache(
		func(ctx context.Context, host string) (runtime.HostDriver, error) { return &fakeDriver{}, nil },
		func(ctx context.Context, host string) (runtime.HostDriver, error) { return &fakeDriver{}, nil },
	)
	profiles := map[string]*types.Profile{
		"docker-prof": {Name: "docker-prof", Kind: types.KindContainer},
	}
	hosts := map[string]bool{"hostA": true}
	out := make([]*worker.Worker, n)
	for i := range out {
		out[i] = worker.New(cache, profiles, hosts)
	}
	return out
}

func startTestDispatcher(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d := New(ln, testWorkers(t, 2))
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	return ln.Addr().String(), func() {
		cancel()
		_ = d.Close()
	}
}

func doRequest(t *testing.T, addr, line string, reply interface{}) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteLine(conn, line))
	require.NoError(t, wire.ReadFrame(bufio.NewReader(conn), reply))
}

func TestDispatcherGetIP(t *testing.T) {
	addr, stop := startTestDispatcher(t)
	defer stop()

	var reply wire.GetIPReply
	doRequest(t, addr, "get_ip web0", &reply)
	require.Len(t, reply.IPs, 1)
	assert.Equal(t, "10.0.0.5", reply.IPs[0].IP)
}

func TestDispatcherList(t *testing.T) {
	addr, stop := startTestDispatcher(t)
	defer stop()

	var reply wire.ListReply
	doRequest(t, addr, "list True", &reply)
	require.Contains(t, reply.Hosts, "hostA")
}

func TestDispatcherMalformedRequestReturnsError(t *testing.T) {
	addr, stop := startTestDispatcher(t)
	defer stop()

	var reply wire.ErrorReply
	doRequest(t, addr, "bogus_command", &reply)
	assert.NotEmpty(t, reply.Error)
}

func TestDispatcherConcurrentConnections(t *testing.T) {
	addr, stop := startTestDispatcher(t)
	defer stop()

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			var reply wire.GetIPReply
			doRequest(t, addr, "get_ip web0", &reply)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
}
