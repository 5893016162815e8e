package wire

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestList(t *testing.T) {
	req, err := ParseRequest("list True")
	require.NoError(t, err)
	assert.Equal(t, VerbList, req.Verb)
	assert.True(t, req.IncludeAll)
}

func TestParseRequestSpawnWithHost(t *testing.T) {
	req, err := ParseRequest("spawn docker-prof web 3 hostA")
	require.NoError(t, err)
	assert.Equal(t, VerbSpawn, req.Verb)
	assert.Equal(t, "docker-prof", req.Profile)
	assert.Equal(t, "web", req.ClusterName)
	assert.Equal(t, 3, req.Count)
	assert.Equal(t, "hostA", req.Host)
}

func TestParseRequestSpawnNoneHost(t *testing.T) {
	req, err := ParseRequest("spawn docker-prof web 3 None")
	require.NoError(t, err)
	assert.Equal(t, "", req.Host)
}

func TestParseRequestStopNodes(t *testing.T) {
	req, err := ParseRequest("stop_nodes web[0-2]")
	require.NoError(t, err)
	assert.Equal(t, VerbStopNodes, req.Verb)
	assert.Equal(t, "web[0-2]", req.NodeSet)
}

func TestParseRequestGetIP(t *testing.T) {
	req, err := ParseRequest("get_ip web[0-2]")
	require.NoError(t, err)
	assert.Equal(t, VerbGetIP, req.Verb)
}

func TestParseRequestUnknownVerb(t *testing.T) {
	_, err := ParseRequest("destroy_everything web")
	assert.Error(t, err)
}

func TestParseRequestBadBool(t *testing.T) {
	_, err := ParseRequest("list maybe")
	assert.Error(t, err)
}

func TestParseRequestEmpty(t *testing.T) {
	_, err := ParseRequest("   ")
	assert.Error(t, err)
}

func TestRequestStringRoundTrip(t *testing.T) {
	cases := []string{
		"list True",
		"spawn docker-prof web 3 hostA",
		"spawn docker-prof web 3 None",
		"stop_nodes web[0-2]",
		"get_ip web[0-2]",
	}
	for _, line := range cases {
		req, err := ParseRequest(line)
		require.NoError(t, err)
		assert.Equal(t, line, req.String())
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	reply := NodeSetReply{NodeSet: "web[0-2]", Errors: []string{"boom"}}
	require.NoError(t, WriteFrame(&buf, &reply))

	var got NodeSetReply
	require.NoError(t, ReadFrame(&buf, &got))
	assert.Equal(t, reply, got)
}

func TestFrameRoundTripListReply(t *testing.T) {
	var buf bytes.Buffer
	reply := ListReply{Hosts: map[string][]NodeSnapshot{
		"hostA": {{Name: "web0", ClusterName: "web", Status: 1}},
	}}
	require.NoError(t, WriteFrame(&buf, &reply))

	var got ListReply
	require.NoError(t, ReadFrame(&buf, &got))
	assert.Equal(t, "web0", got.Hosts["hostA"][0].Name)
}

func TestLineRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLine(&buf, "list True"))

	line, err := ReadLine(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, "list True", line)
}

func TestReadReplyDetectsErrorShape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &ErrorReply{Error: "unknown profile"}))

	var reply NodeSetReply
	err := ReadReply(&buf, &reply)
	assert.EqualError(t, err, "unknown profile")
}

func TestReadReplyDecodesSuccessShape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &NodeSetReply{NodeSet: "web[0-2]"}))

	var reply NodeSetReply
	require.NoError(t, ReadReply(&buf, &reply))
	assert.Equal(t, "web[0-2]", reply.NodeSet)
}

func TestReadLineStripsCRLF(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("get_ip web0\r\n"))
	line, err := ReadLine(r)
	require.NoError(t, err)
	assert.Equal(t, "get_ip web0", line)
}
