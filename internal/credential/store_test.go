package credential

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "nova_auth.json"))
}

func TestVerifyFailsClosedWhenUnconfigured(t *testing.T) {
	s := newTestStore(t)

	assert.False(t, s.Configured())
	assert.False(t, s.Verify("Vira Anon Nova"))
	assert.False(t, s.Verify(""))
}

func TestSetSecretThenVerify(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetSecret("Vira Anon Nova"))
	assert.True(t, s.Configured())
	assert.True(t, s.Verify("Vira Anon Nova"))
	assert.False(t, s.Verify("wrong phrase"))
	assert.False(t, s.Verify(""))
}

func TestSetSecretOverwritesPriorCredential(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetSecret("first phrase"))
	require.NoError(t, s.SetSecret("second phrase"))

	assert.False(t, s.Verify("first phrase"))
	assert.True(t, s.Verify("second phrase"))
}

func TestSetSecretRejectsEmptyPhrase(t *testing.T) {
	s := newTestStore(t)

	err := s.SetSecret("   ")
	require.ErrorIs(t, err, ErrEmptyPhrase)
	assert.False(t, s.Configured())
}

func TestResetReturnsToFirstRunState(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetSecret("Vira Anon Nova"))
	require.NoError(t, s.Reset())

	assert.False(t, s.Configured())
	assert.False(t, s.Verify("Vira Anon Nova"))

	// Resetting again is harmless.
	require.NoError(t, s.Reset())
}

func TestPlaintextNeverPersisted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nova_auth.json")
	s := NewFileStore(path)

	const phrase = "a very unique secret phrase"
	require.NoError(t, s.SetSecret(phrase))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), phrase)
}
