//go:build integration

package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cuongbtq/ms-media-worker/shared/rabbitmq"
	redisclient "github.com/cuongbtq/ms-media-worker/shared/redis"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func TestIntegration_RedisQueue(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}, "6379")

	client, err := redisclient.NewClient(&redisclient.Config{URL: "redis://" + addr}, testLogger())
	require.NoError(t, err)

	q := NewQueue(client, &QueueConfig{ConsumerID: "it", PopTimeout: time.Second}, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap, err := q.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "connected", string(snap.State))

	c := newCollector()
	c.onJob = func(env *Envelope) { assert.NoError(t, env.Ack(ctx)) }
	sub, err := q.Subscribe(ctx, "media:compress", c.handle)
	require.NoError(t, err)

	_, err = q.Publish(ctx, "media:compress", []byte(`{"jobId":"it-1"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jobId":"it-1"}`, string(c.next(t).Payload))

	sub.Unsubscribe()
	waitDone(t, sub)
	require.NoError(t, q.Close())
}

func TestIntegration_AMQP(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
	}, "5672")

	client, err := rabbitmq.NewClient(&rabbitmq.Config{
		URL:            "amqp://guest:guest@" + addr + "/",
		ConnectionName: "integration-test",
	}, testLogger())
	require.NoError(t, err)

	a := NewAMQP(client, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = a.Connect(ctx)
	require.NoError(t, err)
	defer a.Close()

	depth, err := a.Publish(ctx, "media.compress", []byte(`{"jobId":"it-2"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	c := newCollector()
	c.onJob = func(env *Envelope) {
		if env.Receipt.DeliveryCount == 1 {
			assert.NoError(t, env.Nack(ctx, true))
			return
		}
		assert.NoError(t, env.Ack(ctx))
	}
	sub, err := a.Subscribe(ctx, "media.compress", c.handle)
	require.NoError(t, err)

	assert.Equal(t, 1, c.next(t).Receipt.DeliveryCount)
	second := c.next(t)
	assert.Equal(t, 2, second.Receipt.DeliveryCount)
	assert.True(t, second.Receipt.Redelivered)

	sub.Unsubscribe()
	waitDone(t, sub)
}
