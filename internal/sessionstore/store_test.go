package sessionstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "localmind/internal/errors"
	"localmind/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "sessions.db"), logging.NewNoOp())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strptr(s string) *string { return &s }

func TestUpsertSessionCreatesAndTouches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSession(ctx, "s1", strptr("first")))
	sess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "first", *sess.Name)
	assert.Equal(t, 0, sess.MessageCount)
	assert.Equal(t, sess.CreatedAt, sess.LastActivity)
	assert.Nil(t, sess.IngestedAt)

	require.NoError(t, s.UpsertSession(ctx, "s1", nil))
	touched, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "first", *touched.Name, "name survives a touch without rename")
	assert.GreaterOrEqual(t, touched.LastActivity, touched.CreatedAt)
}

func TestMessageCountMatchesMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSession(ctx, "s1", nil))

	for i := 0; i < 5; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		_, err := s.AddMessage(ctx, "s1", role, "message", nil)
		require.NoError(t, err)
	}

	sess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	messages, err := s.GetMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, len(messages), sess.MessageCount)
	assert.Equal(t, 5, sess.MessageCount)
}

func TestMessagesOrderedByTimestampThenID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSession(ctx, "s1", nil))

	// Same timestamp: insertion order must break the tie.
	ts := "2026-01-01T00:00:00.000000Z"
	id1, err := s.AddMessage(ctx, "s1", "user", "first", &ts)
	require.NoError(t, err)
	id2, err := s.AddMessage(ctx, "s1", "assistant", "second", &ts)
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	messages, err := s.GetMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)
}

func TestAddMessageRejectsUnknownRole(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSession(ctx, "s1", nil))

	_, err := s.AddMessage(ctx, "s1", "system", "nope", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestGetFirstUserMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSession(ctx, "s1", nil))

	_, err := s.AddMessage(ctx, "s1", "assistant", "welcome", nil)
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, "s1", "user", "hello there", nil)
	require.NoError(t, err)

	content, err := s.GetFirstUserMessage(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "hello there", content)
}

func TestStalenessLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSession(ctx, "s1", nil))

	// Empty session is never stale.
	stale, err := s.HasNewMessagesSinceIngest(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, stale)

	_, err = s.AddMessage(ctx, "s1", "user", "I like pears", nil)
	require.NoError(t, err)
	stale, err = s.HasNewMessagesSinceIngest(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, stale, "messages without a watermark mean stale")

	require.NoError(t, s.SetIngestedAt(ctx, "s1", nil))
	stale, err = s.HasNewMessagesSinceIngest(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, stale)

	_, err = s.AddMessage(ctx, "s1", "user", "and apples", nil)
	require.NoError(t, err)
	stale, err = s.HasNewMessagesSinceIngest(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, stale, "new activity past the watermark flips staleness back")

	require.NoError(t, s.ClearIngestedAt(ctx, "s1"))
	stale, err = s.HasNewMessagesSinceIngest(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestStalenessUnknownSession(t *testing.T) {
	s := newTestStore(t)
	stale, err := s.HasNewMessagesSinceIngest(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestGetSessionsNeedingIngest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSession(ctx, "empty", nil))
	require.NoError(t, s.UpsertSession(ctx, "stale", nil))
	_, err := s.AddMessage(ctx, "stale", "user", "hi", nil)
	require.NoError(t, err)
	require.NoError(t, s.UpsertSession(ctx, "fresh", nil))
	_, err = s.AddMessage(ctx, "fresh", "user", "hi", nil)
	require.NoError(t, err)
	require.NoError(t, s.SetIngestedAt(ctx, "fresh", nil))

	needing, err := s.GetSessionsNeedingIngest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, needing, 1)
	assert.Equal(t, "stale", needing[0].SessionID)
}

func TestListSessionsOrderedByActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSession(ctx, "a", nil))
	require.NoError(t, s.UpsertSession(ctx, "b", nil))
	_, err := s.AddMessage(ctx, "a", "user", "bump", nil)
	require.NoError(t, err)

	sessions, err := s.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "a", sessions[0].SessionID)
}

func TestDeleteSessionCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSession(ctx, "s1", nil))
	_, err := s.AddMessage(ctx, "s1", "user", "hi", nil)
	require.NoError(t, err)

	deleted, err := s.DeleteSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.GetSession(ctx, "s1")
	assert.True(t, apperrors.IsNotFound(err))
	messages, err := s.GetMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, messages)

	deleted, err = s.DeleteSession(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestGetSessionWithMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSession(ctx, "s1", strptr("chat")))
	_, err := s.AddMessage(ctx, "s1", "user", "I like pears", nil)
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, "s1", "assistant", "Pears are sweet", nil)
	require.NoError(t, err)

	bundle, err := s.GetSessionWithMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, bundle.MessageCount)
	require.Len(t, bundle.Messages, 2)
	assert.Equal(t, "user", bundle.Messages[0].Role)
	assert.Equal(t, "assistant", bundle.Messages[1].Role)
}
