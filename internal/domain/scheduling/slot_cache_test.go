package scheduling

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisSlotCache_RoundTrip(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewRedisSlotCache(client, 15*time.Second)
	ctx := context.Background()

	_, gen, ok, err := cache.Get(ctx, 1, day)
	require.NoError(t, err)
	assert.False(t, ok, "expected a miss on an empty cache")
	assert.Zero(t, gen)

	slots := []Slot{
		{DoctorID: 1, Date: day, Time: Clock(9, 0), CapacityTotal: 2, CapacityUsed: 1},
		{DoctorID: 1, Date: day, Time: Clock(9, 30), CapacityTotal: 2},
	}
	stored, err := cache.Set(ctx, 1, day, gen, slots)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.True(t, mr.Exists("slots:1:2024-06-01"))
	assert.Equal(t, 15*time.Second, mr.TTL("slots:1:2024-06-01"))

	got, _, ok, err := cache.Get(ctx, 1, day)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, slots, got)
}

func TestRedisSlotCache_EmptyListIsAHit(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewRedisSlotCache(client, time.Minute)
	ctx := context.Background()

	_, err := cache.Set(ctx, 1, day, 0, nil)
	require.NoError(t, err)
	got, _, ok, err := cache.Get(ctx, 1, day)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestRedisSlotCache_ExpiresAndInvalidates(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewRedisSlotCache(client, 10*time.Second)
	ctx := context.Background()

	_, err := cache.Set(ctx, 1, day, 0, []Slot{{DoctorID: 1, Date: day, Time: Clock(9, 0), CapacityTotal: 1}})
	require.NoError(t, err)
	mr.FastForward(11 * time.Second)
	_, _, ok, err := cache.Get(ctx, 1, day)
	require.NoError(t, err)
	assert.False(t, ok, "expected entry to expire")

	_, err = cache.Set(ctx, 1, day, 0, []Slot{})
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, 1, day))
	assert.False(t, mr.Exists("slots:1:2024-06-01"))
	gen, err := mr.Get("slots:1:2024-06-01:gen")
	require.NoError(t, err)
	assert.Equal(t, "1", gen)
	assert.Equal(t, genTTL, mr.TTL("slots:1:2024-06-01:gen"))
}

func TestRedisSlotCache_SetAfterInvalidateIsDropped(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewRedisSlotCache(client, time.Minute)
	ctx := context.Background()

	// A reader takes the generation, a booking commits and invalidates,
	// then the reader tries to store what it computed from the old snapshot.
	_, gen, ok, err := cache.Get(ctx, 1, day)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, cache.Invalidate(ctx, 1, day))

	stale := []Slot{{DoctorID: 1, Date: day, Time: Clock(9, 0), CapacityTotal: 1}}
	stored, err := cache.Set(ctx, 1, day, gen, stale)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, mr.Exists("slots:1:2024-06-01"))

	// A reader that starts after the invalidation may fill the cache.
	_, gen, _, err = cache.Get(ctx, 1, day)
	require.NoError(t, err)
	assert.EqualValues(t, 1, gen)
	stored, err = cache.Set(ctx, 1, day, gen, []Slot{})
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestRedisSlotCache_CorruptEntry(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewRedisSlotCache(client, time.Minute)
	require.NoError(t, mr.Set("slots:1:2024-06-01", "not json"))

	_, _, ok, err := cache.Get(context.Background(), 1, day)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRedisSlotCache_ServerDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewRedisSlotCache(client, time.Minute)
	mr.Close()

	_, _, _, err := cache.Get(context.Background(), 1, day)
	assert.Error(t, err)
	assert.Error(t, cache.Invalidate(context.Background(), 1, day))
}

func TestSlotGenerator_WithRedisCache(t *testing.T) {
	mr, client := setupTestRedis(t)
	m := newMemDB()
	opts := Options{Cache: NewRedisSlotCache(client, time.Minute)}
	g := NewSlotGenerator(m, mockAvailabilityRepo{m}, mockAppointmentRepo{m}, opts)
	require.NoError(t, mockAvailabilityRepo{m}.Create(context.Background(), &Availability{
		DoctorID: 1, Date: day, StartTime: Clock(9, 0), EndTime: Clock(10, 0), SeatsTotal: 1, IsOpen: true,
	}))

	slots, err := g.GenerateSlots(context.Background(), 1, day)
	require.NoError(t, err)
	assert.Len(t, slots, 2)
	assert.True(t, mr.Exists("slots:1:2024-06-01"))

	// Redis going away must not break slot generation.
	mr.Close()
	slots, err = g.GenerateSlots(context.Background(), 1, day)
	require.NoError(t, err)
	assert.Len(t, slots, 2)
}
