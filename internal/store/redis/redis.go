package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xqus/otpcard/internal/store"
	"github.com/xqus/otpcard/pkg/models"
)

// Redis implements a Redis Store.
type Redis struct {
	client *redis.Client
	conf   Conf
}

var (
	ctx = context.Background()
)

// Conf contains Redis configuration fields.
type Conf struct {
	Host      string        `json:"host"`
	Port      int           `json:"port"`
	Username  string        `json:"username"`
	Password  string        `json:"password"`
	DB        int           `json:"db"`
	MaxActive int           `json:"max_active"`
	MaxIdle   int           `json:"max_idle"`
	Timeout   time.Duration `json:"timeout"`
	KeyPrefix string        `json:"key_prefix"`
	// If this is set, 'create' and 'consume' events will be PUBLISHed
	// to this Redis key (Redis PubSub).
	PublishKey string `json:"publish_key"`
}

type event struct {
	Type      string          `json:"type"`
	Namespace string          `json:"namespace"`
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
}

// card mirrors models.Card for scanning a Redis hash, with the usable
// index set flattened to a JSON field and the write revision counter
// that backs Swap().
type card struct {
	ID     string `redis:"id"`
	List   string `redis:"list"`
	Hash   string `redis:"hash"`
	Usable string `redis:"usable"`
	Rev    int64  `redis:"rev"`
}

// New returns a Redis implementation of store.
func New(c Conf) *Redis {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "CARD"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", c.Host, c.Port),
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.Timeout,
		WriteTimeout: c.Timeout,
		ReadTimeout:  c.Timeout,
	})

	return &Redis{
		conf:   c,
		client: client,
	}
}

// Ping checks if Redis server is reachable.
func (r *Redis) Ping() error {
	return r.client.Ping(ctx).Err()
}

// Get retrieves the card saved against an ID. The returned revision is
// the value of the record's write counter at the time of the read.
func (r *Redis) Get(namespace, id string) (models.Card, string, error) {
	var (
		key = r.makeKey(namespace, id)
		rc  card
	)

	// Retrieve all fields of the hash.
	if err := r.client.HGetAll(ctx, key).Scan(&rc); err != nil {
		return models.Card{}, "", err
	}

	// Doesn't exist?
	if rc.List == "" {
		return models.Card{}, "", store.ErrNotExist
	}

	usable := map[int]bool{}
	if err := json.Unmarshal([]byte(rc.Usable), &usable); err != nil {
		return models.Card{}, "", fmt.Errorf("error decoding usable set: %w", err)
	}

	out := models.Card{
		ID:     rc.ID,
		List:   rc.List,
		Hash:   rc.Hash,
		Usable: usable,
	}
	return out, strconv.FormatInt(rc.Rev, 10), nil
}

// Put writes a card against an ID, overwriting any existing record.
func (r *Redis) Put(namespace, id string, c models.Card) error {
	usable, err := json.Marshal(c.Usable)
	if err != nil {
		return err
	}

	key := r.makeKey(namespace, id)
	pipe := r.client.TxPipeline()
	pipe.HMSet(ctx, key,
		"id", c.ID,
		"list", c.List,
		"hash", c.Hash,
		"usable", string(usable))
	pipe.HIncrBy(ctx, key, "rev", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	return r.publish("create", namespace, id, c)
}

// Swap writes a card against an ID only if the record is unchanged
// since it was read at revision rev. The key is WATCHed for the
// duration of the transaction, so a concurrent writer aborts it even
// when the revision counter has not been re-read.
func (r *Redis) Swap(namespace, id, rev string, c models.Card) error {
	usable, err := json.Marshal(c.Usable)
	if err != nil {
		return err
	}

	key := r.makeKey(namespace, id)
	txf := func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, "rev").Result()
		if err == redis.Nil {
			return store.ErrNotExist
		}
		if err != nil {
			return err
		}
		if cur != rev {
			return store.ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HMSet(ctx, key,
				"id", c.ID,
				"list", c.List,
				"hash", c.Hash,
				"usable", string(usable))
			pipe.HIncrBy(ctx, key, "rev", 1)
			return nil
		})
		return err
	}

	// If the key is modified externally between the time of watch and
	// the transaction execution, the transaction is aborted.
	err = r.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return store.ErrConflict
	}
	if err != nil {
		return err
	}

	return r.publish("consume", namespace, id, c)
}

// publish pushes an event to the configured PublishKey, if any.
func (r *Redis) publish(typ, namespace, id string, c models.Card) error {
	if r.conf.PublishKey == "" {
		return nil
	}

	b, _ := json.Marshal(c)
	e, _ := json.Marshal(event{
		Type:      typ,
		Namespace: namespace,
		ID:        id,
		Data:      json.RawMessage(b),
	})
	return r.client.Publish(ctx, r.conf.PublishKey, e).Err()
}

// makeKey makes the Redis key for the card.
func (r *Redis) makeKey(namespace, id string) string {
	return fmt.Sprintf("%s:%s:%s", r.conf.KeyPrefix, namespace, id)
}
