// ABOUTME: Tests for wire message encoding and the closed payload/result sets.
// ABOUTME: Validates tagged JSON round-trips and rejection of unknown kinds.

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRoundTrip(t *testing.T) {
	msg, err := NewRegister(Register{
		AgentID:   "agent-1",
		Token:     "s3cret",
		Hostname:  "build-box",
		OS:        "linux",
		Alias:     "builder",
		Version:   "1.4.0",
		Addresses: []string{"10.0.0.5"},
	})
	require.NoError(t, err)
	assert.Equal(t, TypeRegister, msg.Type)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(raw, &decoded))

	reg, err := DecodeRegister(decoded)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", reg.AgentID)
	assert.Equal(t, "s3cret", reg.Token)
	assert.Equal(t, "builder", reg.Alias)
	assert.Equal(t, []string{"10.0.0.5"}, reg.Addresses)
}

func TestDecodeRegisterWrongType(t *testing.T) {
	_, err := DecodeRegister(NewHeartbeat())
	assert.Error(t, err)
}

func TestCommandRoundTrip(t *testing.T) {
	msg, err := NewCommand("corr-1", ShellExec{Cmd: "echo", Args: []string{"hi"}})
	require.NoError(t, err)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(raw, &decoded))

	cmd, err := DecodeCommand(decoded)
	require.NoError(t, err)
	assert.Equal(t, "corr-1", cmd.ID)

	shell, ok := cmd.Cmd.(ShellExec)
	require.True(t, ok, "expected ShellExec, got %T", cmd.Cmd)
	assert.Equal(t, "echo", shell.Cmd)
	assert.Equal(t, []string{"hi"}, shell.Args)
}

func TestCommandNoArgsKind(t *testing.T) {
	msg, err := NewCommand("corr-2", GetHardwareInfo{})
	require.NoError(t, err)

	cmd, err := DecodeCommand(msg)
	require.NoError(t, err)
	_, ok := cmd.Cmd.(GetHardwareInfo)
	assert.True(t, ok, "expected GetHardwareInfo, got %T", cmd.Cmd)
}

func TestUnmarshalPayloadUnknownKind(t *testing.T) {
	_, err := UnmarshalPayload([]byte(`{"cmd_type":"reboot_universe"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command kind")
}

func TestResponseRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		result Result
	}{
		{"shell output", ShellOutput{Stdout: "hi\n", ExitCode: 0}},
		{"dir changed", DirChanged{NewPath: "/tmp"}},
		{"file list", FileList{Files: []FileInfo{{Name: "a.txt", Size: 12}}}},
		{"file content", FileContent{Content: "hello"}},
		{"hardware info", HardwareInfo{CPUUsage: 12.5, TotalMemory: 1024, Platform: "linux"}},
		{"success", Success{Message: "File saved successfully"}},
		{"error", Error{Message: "Failed to read dir"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewResponse("corr-9", tt.result)
			require.NoError(t, err)

			resp, err := DecodeResponse(msg)
			require.NoError(t, err)
			assert.Equal(t, "corr-9", resp.ID)
			assert.Equal(t, tt.result, resp.Result)
		})
	}
}

func TestErrorResultWireShape(t *testing.T) {
	// Success and Error carry a bare string as data.
	raw, err := MarshalResult(Error{Message: "boom"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","data":"boom"}`, string(raw))

	result, err := UnmarshalResult(raw)
	require.NoError(t, err)
	assert.Equal(t, Error{Message: "boom"}, result)
}

func TestUnmarshalResultUnknownStatus(t *testing.T) {
	_, err := UnmarshalResult([]byte(`{"status":"victory"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown result status")
}

func TestHeartbeatHasNoPayload(t *testing.T) {
	raw, err := json.Marshal(NewHeartbeat())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"heartbeat"}`, string(raw))
}

func TestAuthFailedRoundTrip(t *testing.T) {
	msg, err := NewAuthFailed("Invalid token")
	require.NoError(t, err)

	af, err := DecodeAuthFailed(msg)
	require.NoError(t, err)
	assert.Equal(t, "Invalid token", af.Reason)
}
