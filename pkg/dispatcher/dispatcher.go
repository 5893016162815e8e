// Package dispatcher implements the process-wide request router
// (spec.md §4.6): it binds one listener for clients, forwards each
// request to an idle Worker, and routes the Worker's reply back to the
// connection it came from. The original routed through a ZeroMQ
// ROUTER/DEALER broker pair with explicit client-identity frames; no
// ZeroMQ binding exists in the pack, so the Go rewrite gets the same
// identity-preserving routing for free by giving each accepted
// net.Conn its own goroutine that owns the reply path end to end, and
// feeding a shared job channel that a fixed pool of worker goroutines
// drain.
package dispatcher

import (
	"bufio"
	"context"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/clustdock/clustdock/pkg/log"
	"github.com/clustdock/clustdock/pkg/metrics"
	"github.com/clustdock/clustdock/pkg/wire"
	"github.com/clustdock/clustdock/pkg/worker"
)

type job struct {
	req    *wire.Request
	respCh chan result
}

type result struct {
	reply interface{}
	err   error
}

// Dispatcher accepts client connections on a net.Listener and services
// them with a fixed pool of Workers.
type Dispatcher struct {
	listener net.Listener
	workers  []*worker.Worker
	jobs     chan job

	closeOnce sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
}

// New builds a Dispatcher that serves listener with the given Workers.
// len(workers) is the fixed pool size; spec.md §5 calls for a small
// fixed pool, each Worker servicing one command at a time.
func New(listener net.Listener, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		listener: listener,
		workers:  workers,
		jobs:     make(chan job, len(workers)),
		quit:     make(chan struct{}),
	}
}

// Run starts the worker pool and the accept loop. It blocks until the
// listener is closed (via Close) or ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for _, w := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, w)
	}

	go func() {
		<-ctx.Done()
		_ = d.Close()
	}()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.quit:
				d.wg.Wait()
				return nil
			default:
				return err
			}
		}
		go d.handleConn(ctx, conn)
	}
}

// Close stops the accept loop and releases the listener. Workers
// already processing a request are allowed to finish.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() { close(d.quit) })
	return d.listener.Close()
}

func (d *Dispatcher) runWorker(ctx context.Context, w *worker.Worker) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.quit:
			return
		case j, ok := <-d.jobs:
			if !ok {
				return
			}
			metrics.ActiveWorkers.Inc()
			j.respCh <- execute(ctx, w, j.req)
			metrics.ActiveWorkers.Dec()
		}
	}
}

func execute(ctx context.Context, w *worker.Worker, req *wire.Request) result {
	verb := string(req.Verb)
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DispatcherRequestDuration, verb)

	res := dispatch(ctx, w, req)

	outcome := "success"
	if res.err != nil {
		outcome = "error"
	}
	metrics.DispatcherRequestsTotal.WithLabelValues(verb, outcome).Inc()
	return res
}

func dispatch(ctx context.Context, w *worker.Worker, req *wire.Request) result {
	switch req.Verb {
	case wire.VerbList:
		reply, err := w.List(ctx, req.IncludeAll)
		return result{reply: reply, err: err}
	case wire.VerbSpawn:
		reply, err := w.Spawn(ctx, req.Profile, req.ClusterName, req.Count, req.Host)
		return result{reply: reply, err: err}
	case wire.VerbStopNodes:
		reply, err := w.StopNodes(ctx, req.NodeSet)
		return result{reply: reply, err: err}
	case wire.VerbGetIP:
		reply, err := w.GetIP(ctx, req.NodeSet)
		return result{reply: reply, err: err}
	default:
		return result{err: wireUnknownVerb(req.Verb)}
	}
}

// handleConn is the per-connection frontend: it reads request lines,
// submits each as a job to the shared pool, and writes back whatever
// reply or error the Worker that served it produced — identity is
// preserved by construction, since this goroutine owns conn for its
// entire lifetime.
func (d *Dispatcher) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	connID := uuid.New().String()
	logger := log.WithComponent("dispatcher").With().Str("conn_id", connID).Logger()

	for {
		line, err := wire.ReadLine(r)
		if err != nil {
			return
		}

		req, err := wire.ParseRequest(line)
		if err != nil {
			if werr := wire.WriteFrame(conn, wire.ErrorReply{Error: err.Error()}); werr != nil {
				return
			}
			continue
		}

		respCh := make(chan result, 1)
		select {
		case d.jobs <- job{req: req, respCh: respCh}:
		case <-ctx.Done():
			return
		case <-d.quit:
			return
		}

		res := <-respCh
		if res.err != nil {
			if werr := wire.WriteFrame(conn, wire.ErrorReply{Error: res.err.Error()}); werr != nil {
				return
			}
			continue
		}
		if err := wire.WriteFrame(conn, res.reply); err != nil {
			logger.Warn().Err(err).Msg("writing reply failed, closing connection")
			return
		}
	}
}

func wireUnknownVerb(v wire.Verb) error {
	return &unknownVerbError{verb: v}
}

type unknownVerbError struct {
	verb wire.Verb
}

func (e *unknownVerbError) Error() string {
	return "dispatcher: unknown verb " + string(e.verb)
}
