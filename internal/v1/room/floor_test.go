package room

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestFloor_GrantsWhenFree(t *testing.T) {
	reg := NewRegistry(time.Minute, 10, nil)
	_, _, _ = reg.Join(context.Background(), "room-1", newFakeConn("conn-1", "user-1", "Alice"))

	now := time.Now()
	grant, ok := reg.RequestFloor("room-1", "user-1", "Alice", now)
	require.True(t, ok)
	assert.Equal(t, "user-1", string(grant.HolderUserID))
	assert.Equal(t, now.Add(time.Minute), grant.ExpiresAt)
}

func TestRequestFloor_DeniesWhenHeldByAnother(t *testing.T) {
	reg := NewRegistry(time.Minute, 10, nil)
	_, _, _ = reg.Join(context.Background(), "room-1", newFakeConn("conn-1", "user-1", "Alice"))
	_, _, _ = reg.Join(context.Background(), "room-1", newFakeConn("conn-2", "user-2", "Bob"))
	now := time.Now()

	_, ok := reg.RequestFloor("room-1", "user-1", "Alice", now)
	require.True(t, ok)

	grant, ok := reg.RequestFloor("room-1", "user-2", "Bob", now)
	assert.False(t, ok)
	assert.Equal(t, "user-1", string(grant.HolderUserID))
}

func TestRequestFloor_SameHolderRenewsGrant(t *testing.T) {
	reg := NewRegistry(time.Minute, 10, nil)
	_, _, _ = reg.Join(context.Background(), "room-1", newFakeConn("conn-1", "user-1", "Alice"))
	now := time.Now()

	_, ok := reg.RequestFloor("room-1", "user-1", "Alice", now)
	require.True(t, ok)

	later := now.Add(30 * time.Second)
	grant, ok := reg.RequestFloor("room-1", "user-1", "Alice", later)
	require.True(t, ok)
	assert.Equal(t, later.Add(time.Minute), grant.ExpiresAt)
}

func TestRequestFloor_GrantsAfterExpiry(t *testing.T) {
	reg := NewRegistry(time.Minute, 10, nil)
	_, _, _ = reg.Join(context.Background(), "room-1", newFakeConn("conn-1", "user-1", "Alice"))
	_, _, _ = reg.Join(context.Background(), "room-1", newFakeConn("conn-2", "user-2", "Bob"))
	now := time.Now()

	_, ok := reg.RequestFloor("room-1", "user-1", "Alice", now)
	require.True(t, ok)

	afterExpiry := now.Add(2 * time.Minute)
	grant, ok := reg.RequestFloor("room-1", "user-2", "Bob", afterExpiry)
	require.True(t, ok)
	assert.Equal(t, "user-2", string(grant.HolderUserID))
}

func TestRequestFloor_UnknownRoom(t *testing.T) {
	reg := NewRegistry(time.Minute, 10, nil)
	grant, ok := reg.RequestFloor("nope", "user-1", "Alice", time.Now())
	assert.False(t, ok)
	assert.Nil(t, grant)
}

func TestReleaseFloor_ClearsOwnGrant(t *testing.T) {
	reg := NewRegistry(time.Minute, 10, nil)
	_, _, _ = reg.Join(context.Background(), "room-1", newFakeConn("conn-1", "user-1", "Alice"))
	now := time.Now()
	_, _ = reg.RequestFloor("room-1", "user-1", "Alice", now)

	released := reg.ReleaseFloor("room-1", "user-1")
	assert.True(t, released)
	assert.False(t, reg.HasFloor("room-1", "user-1", now))
}

func TestReleaseFloor_IgnoresNonHolder(t *testing.T) {
	reg := NewRegistry(time.Minute, 10, nil)
	_, _, _ = reg.Join(context.Background(), "room-1", newFakeConn("conn-1", "user-1", "Alice"))
	_, _, _ = reg.Join(context.Background(), "room-1", newFakeConn("conn-2", "user-2", "Bob"))
	now := time.Now()
	_, _ = reg.RequestFloor("room-1", "user-1", "Alice", now)

	released := reg.ReleaseFloor("room-1", "user-2")
	assert.False(t, released)
	assert.True(t, reg.HasFloor("room-1", "user-1", now))
}

func TestReleaseFloor_UnknownRoom(t *testing.T) {
	reg := NewRegistry(time.Minute, 10, nil)
	assert.False(t, reg.ReleaseFloor("nope", "user-1"))
}

func TestHasFloor_ExpiredGrantIsAbsent(t *testing.T) {
	reg := NewRegistry(time.Minute, 10, nil)
	_, _, _ = reg.Join(context.Background(), "room-1", newFakeConn("conn-1", "user-1", "Alice"))
	now := time.Now()
	_, _ = reg.RequestFloor("room-1", "user-1", "Alice", now)

	assert.True(t, reg.HasFloor("room-1", "user-1", now))
	assert.False(t, reg.HasFloor("room-1", "user-1", now.Add(2*time.Minute)))
}

func TestSweepExpiredFloors_ClearsOnlyExpired(t *testing.T) {
	reg := NewRegistry(time.Minute, 10, nil)
	_, _, _ = reg.Join(context.Background(), "room-1", newFakeConn("conn-1", "user-1", "Alice"))
	_, _, _ = reg.Join(context.Background(), "room-2", newFakeConn("conn-2", "user-2", "Bob"))
	now := time.Now()

	_, _ = reg.RequestFloor("room-1", "user-1", "Alice", now)
	_, _ = reg.RequestFloor("room-2", "user-2", "Bob", now.Add(2*time.Minute))

	changed := reg.SweepExpiredFloors(now.Add(90 * time.Second))
	require.Len(t, changed, 1)
	assert.Equal(t, "room-1", string(changed[0]))

	assert.False(t, reg.HasFloor("room-1", "user-1", now.Add(90*time.Second)))
	assert.True(t, reg.HasFloor("room-2", "user-2", now.Add(90*time.Second)))
}

func TestSweepExpiredFloors_NoRoomsIsNoOp(t *testing.T) {
	reg := NewRegistry(time.Minute, 10, nil)
	changed := reg.SweepExpiredFloors(time.Now())
	assert.Empty(t, changed)
}
