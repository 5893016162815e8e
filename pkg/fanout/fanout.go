// Package fanout isolates per-node spawn/stop work in child processes,
// the way original_source's server.py isolates each node.start()/
// node.stop() call in its own multiprocessing.Process: a crash or hang
// in one node's driver call (virt-customize, brctl, a wedged RPC) must
// not poison its siblings or the Worker that launched them.
//
// Go has no direct equivalent of fork+Pipe() for a single binary, so
// isolation is achieved by re-executing the daemon's own binary with a
// hidden child flag. The parent feeds each child its Job msgpack-encoded
// over the child's stdin and reads back a msgpack-encoded Result from
// its stdout; the child's exit code is a secondary signal only, since a
// killed child (exit via signal) still needs a reported error.
package fanout

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/clustdock/clustdock/pkg/types"
)

// ChildFlag is the argv[1] value that tells the daemon binary it has
// been re-exec'd as a fan-out child rather than started normally. It
// must be checked before any other flag parsing in main().
const ChildFlag = "__clustdock_fanout_child"

var msgpackHandle = &codec.MsgpackHandle{}

// Op names the per-node operation a Job performs.
type Op string

const (
	OpSpawn Op = "spawn"
	OpStop  Op = "stop"
)

// Job is everything one child process needs to perform one node's
// spawn or stop, msgpack-encoded across the pipe. It carries the node
// spec rather than a live driver handle, since handles don't survive a
// fork/exec boundary.
type Job struct {
	Op   Op
	Node types.Node
}

// Result is one job's outcome, reported back to the parent.
type Result struct {
	Name string
	IP   string
	Err  string
}

// Executor performs one Job inside the child process. The daemon's
// main builds an Executor that opens a fresh driver for each job from
// the daemon config and runs the node's hooks around the driver call,
// then calls Main with it.
type Executor func(ctx context.Context, job Job) Result

// IsChildInvocation reports whether the current process was started as
// a fan-out child, so main() can branch into Main before doing any of
// its normal startup work.
func IsChildInvocation() bool {
	return len(os.Args) > 1 && os.Args[1] == ChildFlag
}

// Run executes jobs concurrently, one child process per job, and
// returns their results in the same order. A child that cannot even be
// started (exec failure, broken pipe) reports its own Result with Err
// set rather than panicking the caller; Run itself never fails.
func Run(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			results[i] = runOne(ctx, job)
		}(i, job)
	}
	wg.Wait()
	return results
}

func runOne(ctx context.Context, job Job) Result {
	exe, err := os.Executable()
	if err != nil {
		return Result{Name: job.Node.Name, Err: "resolving own executable: " + err.Error()}
	}

	cmd := exec.CommandContext(ctx, exe, ChildFlag)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{Name: job.Node.Name, Err: "opening child stdin: " + err.Error()}
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{Name: job.Node.Name, Err: "starting fan-out child: " + err.Error()}
	}

	encErr := codec.NewEncoder(stdin, msgpackHandle).Encode(&job)
	stdin.Close()
	if encErr != nil {
		_ = cmd.Wait()
		return Result{Name: job.Node.Name, Err: "encoding job: " + encErr.Error()}
	}

	waitErr := cmd.Wait()

	var res Result
	if decErr := codec.NewDecoder(&stdout, msgpackHandle).Decode(&res); decErr == nil && res.Name != "" {
		return res
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = waitErr.Error()
		}
		return Result{Name: job.Node.Name, Err: msg}
	}
	return Result{Name: job.Node.Name, Err: "fan-out child produced no result"}
}

// Main is the child process entrypoint: decode one Job from stdin, run
// it through executor, encode the Result to stdout, and exit non-zero
// if the job failed. Called from main() when IsChildInvocation is true.
func Main(executor Executor) {
	var job Job
	if err := codec.NewDecoder(os.Stdin, msgpackHandle).Decode(&job); err != nil {
		fmt.Fprintln(os.Stderr, "fanout child: decoding job:", err)
		os.Exit(1)
	}

	res := executor(context.Background(), job)
	if err := codec.NewEncoder(os.Stdout, msgpackHandle).Encode(&res); err != nil {
		fmt.Fprintln(os.Stderr, "fanout child: encoding result:", err)
		os.Exit(1)
	}

	if res.Err != "" {
		os.Exit(1)
	}
	os.Exit(0)
}
