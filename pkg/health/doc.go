// Package health exposes clustdockd's own liveness: whether its
// ConnectionCache can still reach each managed host's driver. It is a
// small Checker abstraction (grounded on the teacher's generic
// HTTP/TCP/Exec health-check engine) trimmed to the one probe clustdock
// actually needs — HostDriver.Alive — plus a generic ExecChecker kept
// for operator-supplied smoke checks.
package health
