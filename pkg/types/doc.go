/*
Package types defines clustdock's domain model: a Node (one container or
VM instance, identified by clustername+index), the status codes used on
the wire, and a Profile (the reusable kind+attribute-bag recipe a spawn
request names).

Nodes are never persisted. They are either built from a profile by
pkg/worker ahead of a spawn, or reconstructed from a driver's listNodes
snapshot.
*/
package types
