package redisevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kavos113/quickctf/ctf-instancer/domain"
)

const (
	EventChannel   = "instancer:events"
	StateKeyPrefix = "instancer:state:" // + user:challenge

	defaultStateTTL = 24 * time.Hour
)

type Config struct {
	Address  string
	Password string
	StateTTL time.Duration
}

// Publisher broadcasts committed transitions on a pub/sub channel and keeps
// the latest state of each instance under its own key.
type Publisher struct {
	client   *redis.Client
	stateTTL time.Duration
}

func NewPublisher(cfg Config) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newPublisher(client, cfg.StateTTL), nil
}

func newPublisher(client *redis.Client, stateTTL time.Duration) *Publisher {
	if stateTTL <= 0 {
		stateTTL = defaultStateTTL
	}
	return &Publisher{client: client, stateTTL: stateTTL}
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

func StateKey(userID, challenge string) string {
	return fmt.Sprintf("%s%s:%s", StateKeyPrefix, userID, challenge)
}

func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, EventChannel, data)
	key := StateKey(event.UserID, event.Challenge)
	if event.State == domain.StateStopped {
		pipe.Del(ctx, key)
	} else {
		pipe.Set(ctx, key, data, p.stateTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// LatestState returns the last published state for an instance. A missing
// key reads as stopped.
func (p *Publisher) LatestState(ctx context.Context, userID, challenge string) (domain.State, error) {
	data, err := p.client.Get(ctx, StateKey(userID, challenge)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.StateStopped, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state: %w", err)
	}

	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return "", fmt.Errorf("failed to parse state: %w", err)
	}
	return event.State, nil
}

func (p *Publisher) Subscribe(ctx context.Context) *redis.PubSub {
	return p.client.Subscribe(ctx, EventChannel)
}
