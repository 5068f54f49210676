package auth

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/nova/internal/credential"
)

func newAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	store := credential.NewFileStore(filepath.Join(t.TempDir(), "nova_auth.json"))
	return New(store, "Anon")
}

func TestEmptyPhraseResolvesToGuest(t *testing.T) {
	a := newAuthenticator(t)
	require.NoError(t, a.Setup("Vira Anon Nova"))

	id := a.Authenticate("")
	assert.Equal(t, Identity{Username: "Guest", IsCreator: false}, id)

	id = a.Authenticate("   ")
	assert.Equal(t, Identity{Username: "Guest", IsCreator: false}, id)
}

func TestCorrectPhraseResolvesToCreator(t *testing.T) {
	a := newAuthenticator(t)
	require.NoError(t, a.Setup("Vira Anon Nova"))

	id := a.Authenticate("Vira Anon Nova")
	assert.Equal(t, Identity{Username: "Anon", IsCreator: true}, id)
}

func TestWrongPhraseDegradesToGuest(t *testing.T) {
	a := newAuthenticator(t)
	require.NoError(t, a.Setup("Vira Anon Nova"))

	id := a.Authenticate("not the phrase")
	assert.Equal(t, Identity{Username: "Guest", IsCreator: false}, id)
}

func TestUnconfiguredStoreIsFirstRunNotAnError(t *testing.T) {
	a := newAuthenticator(t)

	assert.False(t, a.Configured())
	id := a.Authenticate("anything at all")
	assert.False(t, id.IsCreator)
	assert.Equal(t, "Guest", id.Username)
}

func TestSetupThenAuthenticate(t *testing.T) {
	a := newAuthenticator(t)
	require.NoError(t, a.Setup("open sesame"))
	assert.True(t, a.Configured())

	assert.True(t, a.Authenticate("open sesame").IsCreator)
	assert.False(t, a.Authenticate("open says me").IsCreator)
}
