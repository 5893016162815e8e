// Package worker implements the clustdock Worker: the per-request
// executor that turns one parsed wire.Request into discovery,
// placement, fan-out, and a range-compressed reply (spec.md §4.5).
//
// A Worker owns a runtime.Cache, the profile catalog, and the managed
// host set. It handles one command at a time; the Dispatcher runs a
// fixed pool of Workers in parallel and hands each one request at a
// time, keeping the client connection in its own per-connection
// goroutine.
package worker
