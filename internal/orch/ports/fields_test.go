package ports

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itoa(n int) string { return strconv.Itoa(n) }

func lanes(base, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = itoa(base + i)
	}
	return strings.Join(parts, ",")
}

func TestParseLanes(t *testing.T) {
	got, err := parseLanes("4, 5,6,7")
	require.NoError(t, err)
	assert.Equal(t, []uint32{4, 5, 6, 7}, got)

	_, err = parseLanes("1,1")
	assert.Error(t, err)
	_, err = parseLanes("")
	assert.Error(t, err)
	_, err = parseLanes("a,b")
	assert.Error(t, err)
}

func TestParseAdvSpeeds(t *testing.T) {
	got, err := parseAdvSpeeds("all")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = parseAdvSpeeds("40000,10000")
	require.NoError(t, err)
	assert.Equal(t, "40000,10000", formatAdvSpeeds(got))
}

func TestParseVlanID(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want uint16
		ok   bool
	}{
		{"Vlan1", 1, true},
		{"Vlan4094", 4094, true},
		{"Vlan0", 0, false},
		{"Vlan4095", 0, false},
		{"vlan10", 0, false},
		{"Vlan", 0, false},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseVlanID(tc.in)
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSplitMemberKey(t *testing.T) {
	parent, member, err := splitMemberKey("Vlan10:Ethernet0")
	require.NoError(t, err)
	assert.Equal(t, "Vlan10", parent)
	assert.Equal(t, "Ethernet0", member)

	_, _, err = splitMemberKey("Vlan10")
	assert.Error(t, err)
	_, _, err = splitMemberKey(":Ethernet0")
	assert.Error(t, err)
}

func TestAdminStatus(t *testing.T) {
	up, err := parseAdminStatus("UP")
	require.NoError(t, err)
	assert.True(t, up)
	assert.Equal(t, "down", formatAdminStatus(false))
	_, err = parseAdminStatus("sideways")
	assert.Error(t, err)
}

func TestNeedsAdminDown(t *testing.T) {
	assert.True(t, needsAdminDown("speed"))
	assert.True(t, needsAdminDown("preemphasis"))
	assert.False(t, needsAdminDown("mtu"))
	assert.False(t, needsAdminDown("admin_status"))
}
