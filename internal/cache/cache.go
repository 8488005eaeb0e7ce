// Package cache keeps read copies of events in Redis. It never stores
// registration counts; admission always reads the ledger.
//
// Each entry is a hash {v, data} where v is the event's updated_at in
// microseconds. Writers after a commit only replace older versions, and the
// read path only fills absent keys, so a slow reader cannot put back an event
// that a mutation already replaced. Deleted events are kept as tombstones
// (empty data, maximal version) until the TTL expires.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"eventAdmission/internal/model"
)

const keyPrefix = "event:"

// Largest integer a Lua number holds exactly.
const tombstoneVersion int64 = 1<<53 - 1

var putScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

var fillScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

func eventKey(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}

func version(e *model.Event) int64 {
	return e.UpdatedAt.UnixMicro()
}

type EventCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewEventCache(client *redis.Client, ttl time.Duration) *EventCache {
	return &EventCache{client: client, ttl: ttl}
}

// Get returns nil without error on a miss and model.ErrEventNotFound for a
// deleted event.
func (c *EventCache) Get(ctx context.Context, id int64) (*model.Event, error) {
	vals, err := c.client.HMGet(ctx, eventKey(id), "v", "data").Result()
	if err != nil {
		return nil, err
	}
	data, ok := vals[1].(string)
	if vals[0] == nil || !ok {
		return nil, nil
	}
	if data == "" {
		return nil, model.ErrEventNotFound
	}

	var e model.Event
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Fill stores e only when nothing is cached for it yet.
func (c *EventCache) Fill(ctx context.Context, e *model.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return fillScript.Run(ctx, c.client, []string{eventKey(e.ID)},
		version(e), data, c.ttl.Milliseconds()).Err()
}

// Put stores the committed state of e unless a newer version is cached. A
// deleted event becomes a tombstone.
func (c *EventCache) Put(ctx context.Context, e *model.Event) error {
	if e.Deleted() {
		return putScript.Run(ctx, c.client, []string{eventKey(e.ID)},
			tombstoneVersion, "", c.ttl.Milliseconds()).Err()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return putScript.Run(ctx, c.client, []string{eventKey(e.ID)},
		version(e), data, c.ttl.Milliseconds()).Err()
}

func (c *EventCache) Close() error {
	return c.client.Close()
}

// Nop is used when no Redis address is configured.
type Nop struct{}

func (Nop) Get(context.Context, int64) (*model.Event, error) { return nil, nil }
func (Nop) Fill(context.Context, *model.Event) error         { return nil }
func (Nop) Put(context.Context, *model.Event) error          { return nil }
