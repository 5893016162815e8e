// Package client implements the clustdock CLI's connection to a
// clustdockd dispatcher, mirroring original_source's ClustdockClient:
// one persistent connection, one request line per call, one
// msgpack-framed reply.
package client

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/clustdock/clustdock/pkg/wire"
)

// Client is a thin wrapper over one persistent connection to a
// clustdockd dispatcher endpoint.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to a clustdockd dispatcher listening at addr.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) roundTrip(line string, reply interface{}) error {
	if err := wire.WriteLine(c.conn, line); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	if err := wire.ReadReply(c.r, reply); err != nil {
		return fmt.Errorf("reading reply: %w", err)
	}
	return nil
}

// List asks the dispatcher for every managed host's node snapshots.
// includeAll controls whether stopped nodes are included.
func (c *Client) List(includeAll bool) (wire.ListReply, error) {
	req := &wire.Request{Verb: wire.VerbList, IncludeAll: includeAll}
	var reply wire.ListReply
	if err := c.roundTrip(req.String(), &reply); err != nil {
		return wire.ListReply{}, err
	}
	return reply, nil
}

// Spawn asks the dispatcher to create n nodes of profile in cluster
// name, on host (empty string picks at random).
func (c *Client) Spawn(profile, name string, n int, host string) (wire.NodeSetReply, error) {
	req := &wire.Request{Verb: wire.VerbSpawn, Profile: profile, ClusterName: name, Count: n, Host: host}
	var reply wire.NodeSetReply
	if err := c.roundTrip(req.String(), &reply); err != nil {
		return wire.NodeSetReply{}, err
	}
	return reply, nil
}

// Stop asks the dispatcher to stop every node in nodeset.
func (c *Client) Stop(nodeset string) (wire.NodeSetReply, error) {
	req := &wire.Request{Verb: wire.VerbStopNodes, NodeSet: nodeset}
	var reply wire.NodeSetReply
	if err := c.roundTrip(req.String(), &reply); err != nil {
		return wire.NodeSetReply{}, err
	}
	return reply, nil
}

// GetIP asks the dispatcher for the IP of every node in nodeset.
func (c *Client) GetIP(nodeset string) (wire.GetIPReply, error) {
	req := &wire.Request{Verb: wire.VerbGetIP, NodeSet: nodeset}
	var reply wire.GetIPReply
	if err := c.roundTrip(req.String(), &reply); err != nil {
		return wire.GetIPReply{}, err
	}
	return reply, nil
}
