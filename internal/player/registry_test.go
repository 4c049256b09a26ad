// internal/player/registry_test.go
package player

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/store"
)

func newTestRegistry(clock clockwork.Clock) *Registry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewRegistry(store.NewMemoryStore(), logger, clock)
}

func TestJoinCreatesPlayer(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	r := newTestRegistry(clock)

	p, err := r.Join(ctx, "1234", "  alice  ")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, "alice", p.Name)
	assert.Equal(t, "1234", p.SessionPIN)
	assert.True(t, p.Active)
	assert.Equal(t, "", p.CurrentCard)
	assert.False(t, p.SessionEnded)
	assert.Equal(t, clock.Now().UnixMilli(), p.LastSeen.UnixMilli())

	_, err = r.Join(ctx, "1234", "")
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestJoinResumesExistingRecord(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(clockwork.NewFakeClock())

	p, err := r.Join(ctx, "1234", "alice")
	require.NoError(t, err)
	require.NoError(t, r.AssignCard(ctx, p.ID, "truth or dare", "party", "", 30, time.Now()))
	require.NoError(t, r.Deactivate(ctx, p.ID))

	resumed, err := r.Join(ctx, "1234", "alice")
	require.NoError(t, err)
	assert.Equal(t, p.ID, resumed.ID, "same name in same session resumes the record")
	assert.True(t, resumed.Active)
	assert.Equal(t, "truth or dare", resumed.CurrentCard, "resume keeps the assigned card")
}

func TestJoinCapCountsOnlyActivePlayers(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(clockwork.NewFakeClock())

	var first models.Player
	for i := 0; i < MaxActivePlayers; i++ {
		p, err := r.Join(ctx, "1234", fmt.Sprintf("player-%d", i))
		require.NoError(t, err)
		if i == 0 {
			first = p
		}
	}

	_, err := r.Join(ctx, "1234", "one-too-many")
	assert.ErrorIs(t, err, ErrSessionFull)

	// Same PIN is full, a different session is not.
	_, err = r.Join(ctx, "9999", "one-too-many")
	require.NoError(t, err)

	// Freeing a slot lets a new name in.
	require.NoError(t, r.Deactivate(ctx, first.ID))
	_, err = r.Join(ctx, "1234", "one-too-many")
	require.NoError(t, err)

	// A named rejoin never counts against the cap.
	_, err = r.Join(ctx, "1234", "player-3")
	require.NoError(t, err)
}

func TestFindAndList(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(clockwork.NewFakeClock())

	a, err := r.Join(ctx, "1234", "alice")
	require.NoError(t, err)
	_, err = r.Join(ctx, "1234", "bob")
	require.NoError(t, err)
	require.NoError(t, r.Deactivate(ctx, a.ID))

	got, err := r.Find(ctx, "1234", "alice")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = r.Find(ctx, "1234", "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := r.List(ctx, "1234")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := r.ListActive(ctx, "1234")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "bob", active[0].Name)
}

func TestReadyAndAckFlags(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	r := newTestRegistry(clock)

	p, err := r.Join(ctx, "1234", "alice")
	require.NoError(t, err)

	start := clock.Now()
	require.NoError(t, r.AssignCard(ctx, p.ID, "sing a song", "party", "deck-1", 45, start))
	got, err := r.Find(ctx, "1234", "alice")
	require.NoError(t, err)
	assert.Equal(t, "sing a song", got.CurrentCard)
	assert.Equal(t, "party", got.DeckName)
	assert.Equal(t, 45, got.CardDuration)
	assert.Equal(t, start.UnixMilli(), got.CardStart.UnixMilli())
	assert.False(t, got.ReadyForCard, "assignment clears the ready flag")
	assert.False(t, got.CardReceived, "assignment clears the ack flag")

	require.NoError(t, r.AcknowledgeCard(ctx, p.ID))
	require.NoError(t, r.MarkReady(ctx, p.ID))
	got, err = r.Find(ctx, "1234", "alice")
	require.NoError(t, err)
	assert.True(t, got.CardReceived)
	assert.True(t, got.ReadyForCard)
}

func TestHeartbeatBumpsLastSeen(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	r := newTestRegistry(clock)

	p, err := r.Join(ctx, "1234", "alice")
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	require.NoError(t, r.Heartbeat(ctx, p.ID))

	got, err := r.Find(ctx, "1234", "alice")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().UnixMilli(), got.LastSeen.UnixMilli())
}

func TestMarkEnded(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(clockwork.NewFakeClock())

	p, err := r.Join(ctx, "1234", "alice")
	require.NoError(t, err)
	require.NoError(t, r.AssignCard(ctx, p.ID, "dance", "party", "", 30, time.Now()))
	require.NoError(t, r.MarkEnded(ctx, p.ID))

	got, err := r.Find(ctx, "1234", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.EndSentinel, got.CurrentCard)
	assert.True(t, got.SessionEnded)
	assert.False(t, got.ReadyForCard)
	assert.Zero(t, got.CardDuration)
}
