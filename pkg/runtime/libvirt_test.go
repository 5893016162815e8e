package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstMacAddress(t *testing.T) {
	cases := []struct {
		name string
		xml  string
		want string
	}{
		{
			name: "interface with mac",
			xml:  `<domain><devices><interface type="bridge"><mac address="52:54:00:11:22:33"/><source bridge="br0"/></interface></devices></domain>`,
			want: "52:54:00:11:22:33",
		},
		{
			name: "no mac element",
			xml:  `<domain><devices></devices></domain>`,
			want: "",
		},
		{
			name: "mac element without address attribute",
			xml:  `<domain><mac type="static"/></domain>`,
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, firstMacAddress(tc.xml))
		})
	}
}

func TestParseAfterEndPath(t *testing.T) {
	cases := []struct {
		name string
		blob string
		want string
	}{
		{
			name: "well formed",
			blob: `<clustdock.after_end><after_end path="/opt/hooks/cleanup.sh"/></clustdock.after_end>`,
			want: "/opt/hooks/cleanup.sh",
		},
		{
			name: "no metadata",
			blob: "",
			want: "",
		},
		{
			name: "unterminated attribute",
			blob: `<after_end path="/opt/hooks/cleanup.sh`,
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseAfterEndPath(tc.blob))
		})
	}
}
