package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"codeberg.org/mutker/hubctl/internal/errors"
	"github.com/go-redis/redis/v8"
)

// RedisClient is the subset of *redis.Client the Redis observer uses.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Redis publishes every event on a pub/sub channel and keeps the payload of
// the latest sensor_update under key for clients that poll.
type Redis struct {
	client  RedisClient
	channel string
	key     string
}

func NewRedis(client RedisClient, channel, key string) *Redis {
	return &Redis{client: client, channel: channel, key: key}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   password,
		MaxRetries: 3,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.New().Wrap(errors.ErrUnavailable, err)
	}

	return client, nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.New().Wrap(errors.ErrInvalidArgument, err)
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return errors.New().Wrap(errors.ErrOperationFailed, err)
	}

	if ev.Name != SensorUpdate || r.key == "" {
		return nil
	}

	state, err := json.Marshal(ev.Data)
	if err != nil {
		return errors.New().Wrap(errors.ErrInvalidArgument, err)
	}

	if err := r.client.Set(ctx, r.key, state, 0).Err(); err != nil {
		return errors.New().Wrap(errors.ErrOperationFailed, err)
	}

	return nil
}
