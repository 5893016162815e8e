// Package hooks runs the user-supplied pre/post scripts a node spec may
// name for its lifecycle transitions.
package hooks

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/clustdock/clustdock/pkg/clusterr"
)

// Result is the outcome of one hook invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Run invokes path with the fixed three positional arguments the hook
// contract specifies (node name, kind, host). An empty path is a no-op
// success. Non-zero exit is promoted to a *clusterr.Error of kind
// HookFailed carrying stderr verbatim; missing-executable and
// permission-denied are also returned as HookFailed, with ExitCode -1
// since the process never started.
func Run(ctx context.Context, path, nodeName, kind, host string) (Result, error) {
	if path == "" {
		return Result{}, nil
	}

	cmd := exec.CommandContext(ctx, path, nodeName, kind, host)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err == nil {
		res.ExitCode = 0
		return res, nil
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	} else {
		res.ExitCode = -1
	}
	return res, clusterr.Wrap(clusterr.HookFailed, "hook "+path+" failed: "+res.Stderr, err)
}
