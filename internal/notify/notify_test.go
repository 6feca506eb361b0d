package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf))

	user := uuid.New()
	require.NoError(t, n.Notify(context.Background(), user, KindAppointmentApproved, map[string]any{"token": 3}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, user.String(), line["user_id"])
	assert.Equal(t, "appointment_approved", line["kind"])
	assert.Equal(t, float64(3), line["token"])
}

type failing struct{ err error }

func (f failing) Notify(context.Context, uuid.UUID, Kind, map[string]any) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	m := Multi{Nop{}, failing{err: boom}, Nop{}}

	err := m.Notify(context.Background(), uuid.New(), KindAppointmentCalled, nil)
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, Multi{Nop{}}.Notify(context.Background(), uuid.New(), KindAppointmentCalled, nil))
}

func TestRedisNotifierPublishes(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	user := uuid.New()
	ctx := context.Background()
	sub := client.Subscribe(ctx, Channel(user))
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	n := NewRedisNotifier(client)
	require.NoError(t, n.Notify(ctx, user, KindAppointmentReminder, map[string]any{"reference": "APT-1"}))

	select {
	case msg := <-sub.Channel():
		var got Message
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, user, got.UserID)
		assert.Equal(t, KindAppointmentReminder, got.Kind)
		assert.Equal(t, "APT-1", got.Payload["reference"])
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}
