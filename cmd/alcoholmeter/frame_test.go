package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/alcoholmeter/internal/ble/protocol"
)

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{"start", []string{"start", "write"}, "a00201c06301", false},
		{"read r0", []string{"R0", "r"}, "a00202b45801", false},
		{"float value", []string{"r0", "write", "1.5"}, "a00601b40000c03f5a02", false},
		{"status text", []string{"status", "write", "ok"}, "a00401d06f6b4f02", false},
		{"bad number", []string{"r0", "write", "abc"}, "", true},
		{"bad command", []string{"boom", "write"}, "", true},
		{"bad direction", []string{"start", "up"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeFrame(protocol.DefaultCodec, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDescribeFrame(t *testing.T) {
	out, err := describeFrame(protocol.DefaultCodec, "A0 06 01 B4 00 00 C0 3F 5A 02")
	require.NoError(t, err)
	assert.Contains(t, out, "command:   r0 (0xb4)")
	assert.Contains(t, out, "direction: write")
	assert.Contains(t, out, "float:     1.5")
	assert.Contains(t, out, "checksum:  0x025a (ok)")

	out, err = describeFrame(protocol.DefaultCodec, "a00401d06f6b0000")
	require.NoError(t, err)
	assert.Contains(t, out, `text:      "ok"`)
	assert.Contains(t, out, "mismatch")

	out, err = describeFrame(protocol.DefaultCodec, "a00201c0")
	require.NoError(t, err)
	assert.Contains(t, out, "checksum:  missing")

	_, err = describeFrame(protocol.Codec{Header: protocol.DefaultHeader, Strict: true}, "a00201c0")
	assert.ErrorIs(t, err, protocol.ErrTruncated)

	_, err = describeFrame(protocol.DefaultCodec, "zz")
	assert.Error(t, err)
}

func newFrameFlagsCmd(t *testing.T, configPath string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.Flags().String("config", configPath, "")
	cmd.Flags().Uint8("header", protocol.DefaultHeader, "")
	cmd.Flags().Bool("strict", false, "")
	return cmd
}

func TestFrameCodecDefaultsToConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("protocol:\n  header: 170\n  strict: true\n"), 0o644))

	t.Run("configured codec", func(t *testing.T) {
		codec, err := frameCodec(newFrameFlagsCmd(t, path))
		require.NoError(t, err)
		assert.Equal(t, protocol.Codec{Header: 0xAA, Strict: true}, codec)
	})

	t.Run("flags override config", func(t *testing.T) {
		cmd := newFrameFlagsCmd(t, path)
		require.NoError(t, cmd.Flags().Set("header", "160"))
		require.NoError(t, cmd.Flags().Set("strict", "false"))
		codec, err := frameCodec(cmd)
		require.NoError(t, err)
		assert.Equal(t, protocol.Codec{Header: protocol.DefaultHeader, Strict: false}, codec)
	})

	t.Run("zero header from config is kept", func(t *testing.T) {
		zero := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(zero, []byte("protocol:\n  header: 0\n"), 0o644))
		codec, err := frameCodec(newFrameFlagsCmd(t, zero))
		require.NoError(t, err)
		assert.Equal(t, byte(0x00), codec.Header)
	})
}
