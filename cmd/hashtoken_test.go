package cmd

import (
	"bytes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

func TestHashTokenCommand(t *testing.T) {
	t.Cleanup(
		func() {
			customTokenReader = nil
		},
	)
	customTokenReader = func() ([]byte, error) {
		return []byte("my-api-token"), nil
	}

	currentOut := rootCmd.OutOrStdout()
	currentErr := rootCmd.OutOrStderr()
	t.Cleanup(
		func() {
			rootCmd.SetOut(currentOut)
			rootCmd.SetErr(currentErr)
		},
	)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)

	rootCmd.SetArgs([]string{"hash-token"})
	require.NoError(t, rootCmd.Execute())

	lines := strings.Fields(out.String())
	require.NotEmpty(t, lines)
	hash := lines[len(lines)-1]
	assert.True(
		t,
		strings.HasPrefix(hash, "$argon2id$"),
		"expected argon2id hash, got: %s",
		hash,
	)
	assert.Len(t, strings.Split(hash, "$"), 6)
}
