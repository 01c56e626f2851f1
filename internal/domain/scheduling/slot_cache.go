package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlotCache holds generated slot lists for a short time. A miss is reported
// with ok=false and a nil error.
//
// Every key carries a generation that Invalidate bumps. Get returns the
// generation it saw and Set only stores when it is still current, so a list
// computed from a snapshot taken before a booking committed can never be
// written back after that booking's invalidation. Get must therefore be
// called before the database read that produces the list.
type SlotCache interface {
	Get(ctx context.Context, doctorID int64, date Date) (slots []Slot, gen int64, ok bool, err error)
	Set(ctx context.Context, doctorID int64, date Date, gen int64, slots []Slot) (stored bool, err error)
	Invalidate(ctx context.Context, doctorID int64, date Date) error
}

// genTTL keeps generation counters well past any in-flight slot read. An
// expired counter reads as 0, which only ever rejects a pending Set.
const genTTL = 24 * time.Hour

// RedisSlotCache stores slot lists as JSON under slots:{doctor}:{date} and
// the generation under slots:{doctor}:{date}:gen.
type RedisSlotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSlotCache(client *redis.Client, ttl time.Duration) *RedisSlotCache {
	return &RedisSlotCache{client: client, ttl: ttl}
}

func slotKey(doctorID int64, date Date) string {
	return fmt.Sprintf("slots:%d:%s", doctorID, date)
}

func genKey(doctorID int64, date Date) string {
	return slotKey(doctorID, date) + ":gen"
}

// setIfCurrent writes KEYS[1] only while KEYS[2] still holds ARGV[1].
var setIfCurrent = redis.NewScript(`
local cur = redis.call('GET', KEYS[2]) or '0'
if cur ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

func (c *RedisSlotCache) Get(ctx context.Context, doctorID int64, date Date) ([]Slot, int64, bool, error) {
	vals, err := c.client.MGet(ctx, slotKey(doctorID, date), genKey(doctorID, date)).Result()
	if err != nil {
		return nil, 0, false, fmt.Errorf("get cached slots: %w", err)
	}
	var gen int64
	if raw, ok := vals[1].(string); ok {
		if gen, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, 0, false, fmt.Errorf("decode slot generation: %w", err)
		}
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, gen, false, nil
	}
	var slots []Slot
	if err := json.Unmarshal([]byte(raw), &slots); err != nil {
		return nil, 0, false, fmt.Errorf("decode cached slots: %w", err)
	}
	return slots, gen, true, nil
}

func (c *RedisSlotCache) Set(ctx context.Context, doctorID int64, date Date, gen int64, slots []Slot) (bool, error) {
	if slots == nil {
		slots = []Slot{}
	}
	data, err := json.Marshal(slots)
	if err != nil {
		return false, fmt.Errorf("encode slots: %w", err)
	}
	keys := []string{slotKey(doctorID, date), genKey(doctorID, date)}
	n, err := setIfCurrent.Run(ctx, c.client, keys, strconv.FormatInt(gen, 10), data, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("cache slots: %w", err)
	}
	return n == 1, nil
}

func (c *RedisSlotCache) Invalidate(ctx context.Context, doctorID int64, date Date) error {
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey(doctorID, date))
		p.Expire(ctx, genKey(doctorID, date), genTTL)
		p.Del(ctx, slotKey(doctorID, date))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate slots: %w", err)
	}
	return nil
}

// NopSlotCache never stores anything.
type NopSlotCache struct{}

func (NopSlotCache) Get(context.Context, int64, Date) ([]Slot, int64, bool, error) {
	return nil, 0, false, nil
}
func (NopSlotCache) Set(context.Context, int64, Date, int64, []Slot) (bool, error) { return false, nil }
func (NopSlotCache) Invalidate(context.Context, int64, Date) error              { return nil }
