package costguard

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// reserveScript checks the budget and takes the reservation in one round
// trip. Totals are returned as strings because Lua numbers lose float
// precision over the wire.
var reserveScript = redis.NewScript(`
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local settled = tonumber(redis.call('HGET', KEYS[1], 'settled') or '0')
local amount = tonumber(ARGV[1])
local budget = tonumber(ARGV[2])
if budget >= 0 and reserved + settled + amount > budget then
	return {0, tostring(reserved), tostring(settled)}
end
reserved = tonumber(redis.call('HINCRBYFLOAT', KEYS[1], 'reserved', ARGV[1]))
redis.call('EXPIRE', KEYS[1], ARGV[3])
return {1, tostring(reserved), tostring(settled)}
`)

// settleScript moves an estimate out of reserved and the actual cost into
// settled, clamping reserved at zero.
var settleScript = redis.NewScript(`
local reserved = tonumber(redis.call('HINCRBYFLOAT', KEYS[1], 'reserved', '-' .. ARGV[1]))
if reserved < 0 then
	redis.call('HSET', KEYS[1], 'reserved', '0')
end
redis.call('HINCRBYFLOAT', KEYS[1], 'settled', ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 1
`)

var releaseScript = redis.NewScript(`
local reserved = tonumber(redis.call('HINCRBYFLOAT', KEYS[1], 'reserved', '-' .. ARGV[1]))
if reserved < 0 then
	redis.call('HSET', KEYS[1], 'reserved', '0')
end
return 1
`)

// ledgerTTLSeconds keeps ledger keys for two days so yesterday's spend
// remains inspectable after rollover.
const ledgerTTLSeconds = 2 * 24 * 60 * 60

// RedisLedger keeps spend in Redis so budgets hold across replicas.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

// NewRedisLedger creates a Redis-backed spend ledger.
func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client, prefix: "factoid:budget"}
}

func (l *RedisLedger) key(profile, day string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, profile, day)
}

func (l *RedisLedger) Reserve(ctx context.Context, profile, day string, amount, budget float64) (bool, Spend, error) {
	res, err := reserveScript.Run(ctx, l.client, []string{l.key(profile, day)},
		formatAmount(amount), formatAmount(budget), ledgerTTLSeconds).Slice()
	if err != nil {
		return false, Spend{}, fmt.Errorf("redis reserve: %w", err)
	}
	if len(res) != 3 {
		return false, Spend{}, fmt.Errorf("redis reserve: unexpected reply %v", res)
	}

	ok, _ := res[0].(int64)
	spend, err := parseSpend(res[1], res[2])
	if err != nil {
		return false, Spend{}, fmt.Errorf("redis reserve: %w", err)
	}
	return ok == 1, spend, nil
}

func (l *RedisLedger) Settle(ctx context.Context, profile, day string, estimate, actual float64) error {
	err := settleScript.Run(ctx, l.client, []string{l.key(profile, day)},
		formatAmount(estimate), formatAmount(actual), ledgerTTLSeconds).Err()
	if err != nil {
		return fmt.Errorf("redis settle: %w", err)
	}
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, profile, day string, estimate float64) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key(profile, day)}, formatAmount(estimate)).Err()
	if err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

func (l *RedisLedger) Current(ctx context.Context, profile, day string) (Spend, error) {
	vals, err := l.client.HMGet(ctx, l.key(profile, day), "reserved", "settled").Result()
	if err != nil {
		return Spend{}, fmt.Errorf("redis current: %w", err)
	}
	return parseSpend(vals[0], vals[1])
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseSpend(reserved, settled interface{}) (Spend, error) {
	var spend Spend
	var err error
	if spend.Reserved, err = parseAmount(reserved); err != nil {
		return Spend{}, err
	}
	if spend.Settled, err = parseAmount(settled); err != nil {
		return Spend{}, err
	}
	return spend, nil
}

func parseAmount(v interface{}) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseFloat(x, 64)
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("unexpected ledger value %T", v)
	}
}
