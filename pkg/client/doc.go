// Package client is the CLI-facing half of the wire protocol: a thin
// request/reply wrapper over one persistent connection to clustdockd,
// used by cmd/clustdock.
package client
