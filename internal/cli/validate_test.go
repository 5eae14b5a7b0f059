package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Valid(t *testing.T) {
	out, err := execute(t, "validate", "../config/testdata/agent.cue")
	require.NoError(t, err)
	assert.Equal(t, "Config is valid: ../config/testdata/agent.cue\n", out)
}

func TestValidate_ValidJSON(t *testing.T) {
	out, err := execute(t, "validate", "--format", "json", "../config/testdata/agent.cue")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, "sim", resp.Data.Device)
	assert.Equal(t, 4, resp.Data.Ports)
}

func TestValidate_Invalid(t *testing.T) {
	out, err := execute(t, "validate", "--format", "json", "../config/testdata/bad_mtu.cue")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E203", resp.Error.Code)
}

func TestValidate_Missing(t *testing.T) {
	out, err := execute(t, "validate", "does-not-exist.cue")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E201]")
}
