package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskField(t *testing.T) {
	require.Equal(t, "", MaskField("jwt_secret", "").Value.String())
	require.Equal(t, RedactedValue, MaskField("jwt_secret", "hunter2").Value.String())
	require.Equal(t, "borrow", MaskField("op", "borrow").Value.String())
	require.True(t, IsAllowlisted(" Owner "))
	require.Contains(t, RedactionAllowlist(), "code")
}

func TestMaskToken(t *testing.T) {
	require.Equal(t, "", MaskToken(""))
	require.Equal(t, RedactedValue, MaskToken("short"))
	require.Equal(t, RedactedValue+"wxyz", MaskToken("abcdefghijklmnopqrstuvwxyz"))
}

func TestSetupWithFileWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaultd.log")
	logger, closer := SetupWithFile("vaultd", "test", FileOptions{Path: path})
	logger.Info("hello", "op", "deposit")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(raw)
	require.True(t, strings.Contains(line, `"message":"hello"`), line)
	require.True(t, strings.Contains(line, `"severity":"INFO"`), line)
	require.True(t, strings.Contains(line, `"service":"vaultd"`), line)
	require.True(t, strings.Contains(line, `"op":"deposit"`), line)
}
