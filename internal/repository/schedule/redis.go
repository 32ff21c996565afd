package schedule

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
)

// RedisOptions configures the redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Key is the hash holding one field per delivery id.
	Key string
}

// DefaultRedisKey is used when RedisOptions.Key is empty.
const DefaultRedisKey = "alarm-keeper:armed"

// RedisRepository persists armed alarms in a redis hash.
type RedisRepository struct {
	client *redis.Client
	key    string
}

// NewRedisRepository connects to redis and checks the connection.
func NewRedisRepository(ctx context.Context, opts RedisOptions) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	return newRedisRepository(client, opts.Key), nil
}

func newRedisRepository(client *redis.Client, key string) *RedisRepository {
	if key == "" {
		key = DefaultRedisKey
	}

	return &RedisRepository{client: client, key: key}
}

// Load reads every armed alarm from the hash.
func (r *RedisRepository) Load(ctx context.Context) ([]alarm.Armed, error) {
	exists, err := r.client.Exists(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("check schedule key: %w", err)
	}

	if exists == 0 {
		return nil, ErrNotFound
	}

	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read schedule hash: %w", err)
	}

	result := make([]alarm.Armed, 0, len(fields))

	for id, value := range fields {
		armed, err := decodeRecord([]byte(value))
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", id, err)
		}

		result = append(result, armed)
	}

	return result, nil
}

// Save replaces the hash with alarms in one transaction.
func (r *RedisRepository) Save(ctx context.Context, alarms []alarm.Armed) error {
	values := make(map[string]any, len(alarms))

	for i := range alarms {
		data, err := encodeRecord(&alarms[i])
		if err != nil {
			return err
		}

		values[alarms[i].DeliveryID] = data
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)

		if len(values) > 0 {
			pipe.HSet(ctx, r.key, values)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("write schedule hash: %w", err)
	}

	return nil
}

// Close releases the redis connection.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
