package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orchd/internal/harness"
	"github.com/roach88/orchd/internal/store"
)

func TestApplyAndDump(t *testing.T) {
	db := filepath.Join(t.TempDir(), "orchd.db")

	out, err := execute(t, "apply", "--db", db, "testdata/ports.yaml")
	require.NoError(t, err)
	assert.Equal(t, "Applied 5 set and 1 del entries.\n", out)

	out, err = execute(t, "dump", "--db", db, "--table", "PORT_TABLE")
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"APPL PORT_TABLE|Ethernet0 lanes=0,1,2,3 admin_status=up mtu=9100",
		"APPL PORT_TABLE|Ethernet4 lanes=4,5,6,7",
		"APPL PORT_TABLE|PortConfigDone count=2",
		"APPL PORT_TABLE|PortInitDone",
	}, "\n")+"\n", out)

	out, err = execute(t, "dump", "--db", db, "--db-name", "CONFIG", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t,
		`[{"db":"CONFIG","fields":{"FLEX_COUNTER_STATUS":"enable","POLL_INTERVAL":"1000"},"key":"PORT","table":"FLEX_COUNTER_TABLE"}]`+"\n",
		out)
}

func TestApply_JSON(t *testing.T) {
	db := filepath.Join(t.TempDir(), "orchd.db")

	out, err := execute(t, "apply", "--db", db, "--format", "json", "testdata/ports.yaml")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   ApplyResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, ApplyResult{Set: 5, Deleted: 1}, resp.Data)
}

func TestApply_MissingFile(t *testing.T) {
	_, err := execute(t, "apply", "--db", filepath.Join(t.TempDir(), "orchd.db"), "nope.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDump_UnknownDB(t *testing.T) {
	_, err := execute(t, "dump", "--db", filepath.Join(t.TempDir(), "orchd.db"), "--db-name", "NOPE")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown database "NOPE"`)
}

func TestLoadEntries(t *testing.T) {
	entries, err := LoadEntries("testdata/ports.yaml")
	require.NoError(t, err)
	require.Len(t, entries, 6)

	assert.Equal(t, Entry{
		DB:  store.DBAppl,
		Key: "PORT_TABLE|Ethernet4",
		Op:  "set",
		Fields: harness.Fields{
			{Field: "lanes", Value: "4,5,6,7"},
		},
	}, entries[1])
	assert.Equal(t, store.DBConfig, entries[4].DB)
	assert.Equal(t, "del", entries[5].Op)
}

func TestLoadEntries_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad key", "- key: PORT_TABLE\n", "want TABLE|key"},
		{"bad op", "- key: T|k\n  op: hset\n", `unknown op "hset"`},
		{"del with fields", "- key: T|k\n  op: del\n  fields: {a: b}\n", "del takes no fields"},
		{"bad db", "- key: T|k\n  db: appl\n", `unknown db "appl"`},
		{"unknown field", "- key: T|k\n  value: x\n", "failed to parse YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "entries.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := LoadEntries(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
