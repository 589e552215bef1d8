package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPartition is the key prefix of the durable session partition.
const DefaultPartition = "connect-admin-auth"

// ErrCorruptRecord is returned when a persisted record cannot be decoded.
var ErrCorruptRecord = errors.New("session: corrupt record")

// Persister stores session records per browser.
type Persister interface {
	Read(ctx context.Context, id string) (Record, bool, error)
	Write(ctx context.Context, id string, rec Record) error
	Delete(ctx context.Context, id string) error
}

// RedisPersister keeps records in Redis under "<partition>:<browser id>".
type RedisPersister struct {
	client    *redis.Client
	partition string
	ttl       time.Duration
}

// NewRedisPersister constructs a RedisPersister. An empty partition falls back to DefaultPartition.
func NewRedisPersister(client *redis.Client, partition string, ttl time.Duration) *RedisPersister {
	if partition == "" {
		partition = DefaultPartition
	}
	return &RedisPersister{client: client, partition: partition, ttl: ttl}
}

// Read loads the record for id. The boolean is false when nothing is stored.
func (p *RedisPersister) Read(ctx context.Context, id string) (Record, bool, error) {
	payload, err := p.client.Get(ctx, p.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("session: read: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return rec, true, nil
}

// Write replaces the record for id and refreshes its TTL.
func (p *RedisPersister) Write(ctx context.Context, id string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := p.client.Set(ctx, p.key(id), data, p.ttl).Err(); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	return nil
}

// Delete drops the record for id.
func (p *RedisPersister) Delete(ctx context.Context, id string) error {
	if err := p.client.Del(ctx, p.key(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

func (p *RedisPersister) key(id string) string {
	return p.partition + ":" + id
}
