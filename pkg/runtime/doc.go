// Package runtime provides the two HostDriver bindings clustdock
// materializes nodes through — ContainerDriver for container-kind
// profiles, HypervisorDriver for VM-kind profiles — plus the per-Worker
// Cache that keeps each managed host's driver handle alive across
// requests and reopens it when Alive reports false.
//
// ContainerDriver talks to a host's containerd socket directly; spec.md
// assumes containerd is already running on every managed host, so
// there is no embedded-containerd lifecycle to own here, unlike the
// teacher's runtime package. HypervisorDriver speaks the libvirt RPC
// protocol over a local UNIX socket or an SSH-tunneled connection to a
// remote host's libvirtd, using a pure-Go client so no cgo toolchain is
// required on the daemon host.
package runtime
