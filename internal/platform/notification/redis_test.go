package notification

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisPublisher_Notify(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, "booking.events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(client, "booking.events")
	event := StatusChanged(42, 7, "Completed")
	event.ID = "evt-42"
	require.NoError(t, pub.Notify(ctx, event))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "booking.events", msg.Channel)

	var got Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "evt-42", got.ID)
	assert.Equal(t, TypeStatusChanged, got.Type)
	assert.Equal(t, int64(42), got.AppointmentID)
	assert.Equal(t, "Completed", got.NewStatus)
}

func TestRedisPublisher_ServerDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	mr.Close()

	err := NewRedisPublisher(client, "booking.events").Notify(context.Background(), Event{Type: TypeReminder})
	assert.Error(t, err)
}
