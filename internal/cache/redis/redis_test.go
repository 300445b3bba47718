package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predator/internal/domain"
)

const prefix = "predator:test:"

func newMock() (*Client, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	return NewFromRedis(db, prefix), mock
}

func TestSignalBus_PublishUsesPrefix(t *testing.T) {
	c, mock := newMock()
	bus := NewSignalBus(c, 0)

	mock.ExpectPublish(prefix+domain.TopicState, []byte(`{"type":"state_transition"}`)).SetVal(1)
	require.NoError(t, bus.Publish(context.Background(), domain.TopicState, []byte(`{"type":"state_transition"}`)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalBus_StreamAppendTrims(t *testing.T) {
	c, mock := newMock()
	bus := NewSignalBus(c, 500)

	payload := []byte(`{"allow":false}`)
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: prefix + domain.StreamDecisions,
		MaxLen: 500,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).SetVal("1-0")
	require.NoError(t, bus.StreamAppend(context.Background(), domain.StreamDecisions, payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalBus_StreamReadEmpty(t *testing.T) {
	c, mock := newMock()
	bus := NewSignalBus(c, 0)

	mock.ExpectXRead(&redis.XReadArgs{
		Streams: []string{prefix + domain.StreamTransitions, "0"},
		Count:   10,
		Block:   -1,
	}).RedisNil()
	msgs, err := bus.StreamRead(context.Background(), domain.StreamTransitions, "", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalBus_StreamReadDecodes(t *testing.T) {
	c, mock := newMock()
	bus := NewSignalBus(c, 0)

	mock.ExpectXRead(&redis.XReadArgs{
		Streams: []string{prefix + domain.StreamTransitions, "5-0"},
		Count:   2,
		Block:   -1,
	}).SetVal([]redis.XStream{{
		Stream: prefix + domain.StreamTransitions,
		Messages: []redis.XMessage{
			{ID: "6-0", Values: map[string]any{"payload": "a"}},
			{ID: "7-0", Values: map[string]any{"other": "skip"}},
		},
	}})
	msgs, err := bus.StreamRead(context.Background(), domain.StreamTransitions, "5-0", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "6-0", msgs[0].ID)
	assert.Equal(t, "a", string(msgs[0].Payload))
}

func TestSnapshotCache_PutGet(t *testing.T) {
	c, mock := newMock()
	cache := NewSnapshotCache(c, time.Minute)
	ctx := context.Background()

	snap := domain.StateSnapshot{State: domain.StateHunting, Cause: "dump", Version: 3}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectSet(prefix+"snapshot:state", raw, time.Minute).SetVal("OK")
	require.NoError(t, cache.Put(ctx, "state", snap))

	mock.ExpectGet(prefix + "snapshot:state").SetVal(string(raw))
	var got domain.StateSnapshot
	require.NoError(t, cache.Get(ctx, "state", &got))
	assert.Equal(t, snap.State, got.State)
	assert.Equal(t, snap.Version, got.Version)

	mock.ExpectGet(prefix + "snapshot:liquidity").RedisNil()
	var liq domain.LiquidityScore
	assert.ErrorIs(t, cache.Get(ctx, "liquidity", &liq), domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseManager_Held(t *testing.T) {
	c, mock := newMock()
	lm := NewLeaseManager(c)

	// The token is random, so accept any SET NX on the lease key.
	mock.CustomMatch(func(expected, actual []interface{}) error {
		return nil
	}).ExpectSetNX(prefix+"lease:engine", "", 15*time.Second).SetVal(false)

	_, err := lm.Acquire(context.Background(), "engine", 15*time.Second)
	assert.ErrorIs(t, err, domain.ErrLeaseHeld)
}
