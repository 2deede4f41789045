package session

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndParseResumeToken_RoundTrips(t *testing.T) {
	key := []byte("test-signing-key")
	token, err := signResumeToken("session-1", time.Minute, key)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	sessionID, err := parseResumeToken(token, key)
	require.NoError(t, err)
	assert.Equal(t, "session-1", sessionID)
}

func TestParseResumeToken_RejectsWrongKey(t *testing.T) {
	token, err := signResumeToken("session-1", time.Minute, []byte("key-a"))
	require.NoError(t, err)

	_, err = parseResumeToken(token, []byte("key-b"))
	assert.Error(t, err)
}

func TestParseResumeToken_RejectsExpired(t *testing.T) {
	token, err := signResumeToken("session-1", -time.Second, []byte("test-signing-key"))
	require.NoError(t, err)

	_, err = parseResumeToken(token, []byte("test-signing-key"))
	assert.Error(t, err)
}

func TestStore_ResumeReportsExpiredSlot(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewStore(rdb, "instance-a", time.Minute, []byte("test-signing-key"), nil)

	token, err := signResumeToken("session-1", time.Minute, store.signingKey)
	require.NoError(t, err)

	mock.ExpectExists(sessionSlotPrefix + "session-1").SetVal(0)

	_, err = store.Resume(context.Background(), token)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ResumeReturnsSessionIDWhenSlotLive(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewStore(rdb, "instance-a", time.Minute, []byte("test-signing-key"), nil)

	token, err := signResumeToken("session-1", time.Minute, store.signingKey)
	require.NoError(t, err)

	mock.ExpectExists(sessionSlotPrefix + "session-1").SetVal(1)

	sessionID, err := store.Resume(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "session-1", sessionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Touch(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewStore(rdb, "instance-a", time.Minute, []byte("test-signing-key"), nil)

	mock.ExpectExpire(sessionSlotPrefix+"session-1", time.Minute).SetVal(true)

	require.NoError(t, store.Touch(context.Background(), "session-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ReclaimCrashed_PrunesExpiredSlots(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewStore(rdb, "instance-a", time.Minute, []byte("test-signing-key"), nil)

	instanceKey := instanceSlotsKey + "instance-a"
	mock.ExpectSMembers(instanceKey).SetVal([]string{"alive", "dead"})
	mock.ExpectExists(sessionSlotPrefix + "alive").SetVal(1)
	mock.ExpectExists(sessionSlotPrefix + "dead").SetVal(0)
	mock.ExpectSRem(instanceKey, "dead").SetVal(1)

	reclaimed, err := store.ReclaimCrashed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
