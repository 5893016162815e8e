// Package wire implements clustdock's client/dispatcher protocol: a
// newline-terminated text request line per spec.md §6, replied to with
// a msgpack-encoded value framed by a 4-byte big-endian length prefix,
// both on a plain net.Conn. The original spoke this same request/reply shape over a
// ZeroMQ REQ/ROUTER socket pair; no ZeroMQ binding exists anywhere in
// the example corpus, so the Go rewrite keeps the envelope and swaps
// the transport for a hand-rolled framing atop net.Conn.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

const maxFrameSize = 16 << 20 // 16MiB guards against a corrupt length prefix

var msgpackHandle = &codec.MsgpackHandle{}

// WriteLine writes one newline-terminated text request line, per the
// text wire format. It has no length prefix; the reply that follows it
// does.
func WriteLine(w io.Writer, line string) error {
	_, err := io.WriteString(w, line+"\n")
	return err
}

// ReadLine reads one newline-terminated text request line.
func ReadLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return trimNewline(line), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// WriteFrame msgpack-encodes v and writes it as a 4-byte-length-prefixed
// frame.
func WriteFrame(w io.Writer, v interface{}) error {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if len(buf) > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(buf))
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(buf)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads a 4-byte-length-prefixed frame and msgpack-decodes it
// into v.
func ReadFrame(r io.Reader, v interface{}) error {
	buf, err := readFrameBytes(r)
	if err != nil {
		return err
	}
	dec := codec.NewDecoderBytes(buf, msgpackHandle)
	return dec.Decode(v)
}

func readFrameBytes(r io.Reader) ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes", n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadReply reads one frame and decodes it into reply, unless the frame
// is a whole-request ErrorReply (spec.md §7), in which case it returns
// that error instead. This is the client-side counterpart to a
// Dispatcher that may write either shape on any given request.
func ReadReply(r io.Reader, reply interface{}) error {
	buf, err := readFrameBytes(r)
	if err != nil {
		return err
	}

	var probe ErrorReply
	if err := codec.NewDecoderBytes(buf, msgpackHandle).Decode(&probe); err == nil && probe.Error != "" {
		return fmt.Errorf("%s", probe.Error)
	}

	return codec.NewDecoderBytes(buf, msgpackHandle).Decode(reply)
}
