package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acplb-codex/internal/permissions"
)

func TestCreateAssignsSessionPrefixedID(t *testing.T) {
	store := New()
	st := store.Create("/workspace", permissions.ModeDefault)
	assert.Regexp(t, `^session-[0-9a-f-]+$`, st.ID)
	assert.Equal(t, "/workspace", st.WorkingDir)
}

func TestGetReturnsCreatedSession(t *testing.T) {
	store := New()
	created := store.Create("/workspace", permissions.ModeAcceptEdits)

	got, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, permissions.ModeAcceptEdits, got.Mode)
}

func TestGetUnknownIDReturnsErrNotFound(t *testing.T) {
	store := New()
	_, err := store.Get("session-does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateModeChangesStoredMode(t *testing.T) {
	store := New()
	created := store.Create("/workspace", permissions.ModeDefault)

	require.NoError(t, store.UpdateMode(created.ID, permissions.ModeYolo))

	got, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, permissions.ModeYolo, got.Mode)
}

func TestUpdateModeUnknownIDReturnsErrNotFound(t *testing.T) {
	store := New()
	err := store.UpdateMode("session-missing", permissions.ModeYolo)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := New()
	created := store.Create("/workspace", permissions.ModeDefault)

	store.Delete(created.ID)
	store.Delete(created.ID)

	_, err := store.Get(created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
