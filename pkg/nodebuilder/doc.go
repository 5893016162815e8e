/*
Package nodebuilder turns a node spec (a types.Node, which pkg/worker
builds from a cluster profile and an index) into what a HostDriver needs
to create it: a rewritten libvirt domain XML document for vm-kind nodes,
or a run-argument set for container-kind nodes.
*/
package nodebuilder
