// internal/session/manager_test.go
package session

import (
	"context"
	"regexp"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/store"
)

func newTestManager() *Manager {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewManager(store.NewMemoryStore(), logger)
}

func TestCreateDefaults(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	sess, err := m.Create(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^\d{4}$`), sess.PIN)
	assert.Equal(t, models.ModeRandom, sess.Mode)
	assert.Equal(t, DefaultMinTimerSeconds, sess.MinTimerSeconds)
	assert.Equal(t, DefaultMaxTimerSeconds, sess.MaxTimerSeconds)
	assert.False(t, sess.IsPlaying)
	assert.False(t, sess.IsEnding)
	assert.False(t, sess.Ended)

	got, err := m.Get(ctx, sess.PIN)
	require.NoError(t, err)
	assert.Equal(t, sess.PIN, got.PIN)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	_, err := m.Create(ctx, "spiral", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidMode)

	_, err = m.Create(ctx, models.ModeUnison, 90, 30)
	assert.ErrorIs(t, err, ErrInvalidTimer)
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	_, err := m.Get(ctx, "0000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateSettings(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	sess, err := m.Create(ctx, models.ModeRandom, 10, 20)
	require.NoError(t, err)

	mode := models.ModeUnique
	minSec, maxSec := 15, 45
	deckID := "b9e9f6eb-0000-0000-0000-000000000000"
	updated, err := m.UpdateSettings(ctx, sess.PIN, Settings{
		Mode:            &mode,
		MinTimerSeconds: &minSec,
		MaxTimerSeconds: &maxSec,
		ActiveDeckID:    &deckID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ModeUnique, updated.Mode)
	assert.Equal(t, 15, updated.MinTimerSeconds)
	assert.Equal(t, 45, updated.MaxTimerSeconds)
	assert.Equal(t, deckID, updated.ActiveDeckID)
}

func TestUpdateSettingsValidation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	sess, err := m.Create(ctx, models.ModeRandom, 10, 20)
	require.NoError(t, err)

	// Raising min above the stored max is rejected even when max is not in
	// the same update.
	minSec := 25
	_, err = m.UpdateSettings(ctx, sess.PIN, Settings{MinTimerSeconds: &minSec})
	assert.ErrorIs(t, err, ErrInvalidTimer)

	bad := models.Mode("spiral")
	_, err = m.UpdateSettings(ctx, sess.PIN, Settings{Mode: &bad})
	assert.ErrorIs(t, err, ErrInvalidMode)

	// Empty update is a no-op, not an error.
	same, err := m.UpdateSettings(ctx, sess.PIN, Settings{})
	require.NoError(t, err)
	assert.Equal(t, 10, same.MinTimerSeconds)
}

func TestLifecycleFlags(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	sess, err := m.Create(ctx, models.ModeUnison, 0, 0)
	require.NoError(t, err)

	playing, err := m.SetPlaying(ctx, sess.PIN, true)
	require.NoError(t, err)
	assert.True(t, playing.IsPlaying)

	require.NoError(t, m.MarkEnding(ctx, sess.PIN))
	got, err := m.Get(ctx, sess.PIN)
	require.NoError(t, err)
	assert.True(t, got.IsEnding)

	final, err := m.Finalize(ctx, sess.PIN)
	require.NoError(t, err)
	assert.True(t, final.Ended)
	assert.False(t, final.IsPlaying)
	assert.False(t, final.IsEnding)

	// Ended sessions reject further control operations.
	_, err = m.SetPlaying(ctx, sess.PIN, true)
	assert.ErrorIs(t, err, ErrEnded)
	minSec := 5
	_, err = m.UpdateSettings(ctx, sess.PIN, Settings{MinTimerSeconds: &minSec})
	assert.ErrorIs(t, err, ErrEnded)
}
