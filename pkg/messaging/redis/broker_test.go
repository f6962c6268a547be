package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/pkg/messaging"
)

func TestPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	nop := zerolog.Nop()
	broker := NewRedisBroker(client, &nop)
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := broker.Subscribe(ctx, "notifications:user-1")
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, "notifications:user-1", messaging.Message{
		Type:    "referral.accepted",
		Payload: map[string]string{"referral_id": "r-1"},
	}))

	select {
	case raw := <-msgs:
		var got messaging.Message
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "referral.accepted", got.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}
