package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"progressionkit/core"
	"progressionkit/engine"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" env:"PROGRESSION_REDIS_ADDR"`
	Password     string        `json:"password,omitempty" env:"PROGRESSION_REDIS_PASSWORD"`
	DB           int           `json:"db" env:"PROGRESSION_REDIS_DB"`
	PoolSize     int           `json:"pool_size" env:"PROGRESSION_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" env:"PROGRESSION_REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"PROGRESSION_REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"PROGRESSION_REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"PROGRESSION_REDIS_WRITE_TIMEOUT"`
	KeyPrefix    string        `json:"key_prefix" env:"PROGRESSION_REDIS_KEY_PREFIX"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "progression",
	}
}

// Store implements engine.Storage on Redis. Every multi-key storage unit is a
// Lua script or a WATCH/MULTI transaction.
//
// Data structure (prefix omitted):
//   - users -> set of user ids
//   - user:{id} -> hash of progression fields
//   - user:{id}:ledger -> list of ledger entry ids, append order
//   - user:{id}:badges -> hash badge -> awarded_at (unix nanos)
//   - ledger -> sorted set of entry ids scored by created_at (unix micros)
//   - ledger:entries -> hash id -> JSON entry
//   - challenges -> hash id -> JSON challenge
//   - progress:{user}:{challenge} -> hash current, completed, completed_at, joined_at
//   - badges -> hash id -> JSON definition
//   - seasons -> hash id -> JSON season; season:active -> id
//   - season:{id}:entries / season:{id}:ranks -> hash user -> value
//
// The ApplyXP script derives the season entry key from season:active, so the
// store requires a single Redis node.
type Store struct {
	client *redis.Client
	prefix string
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, config.KeyPrefix), nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "progression"
	}
	return &Store{client: client, prefix: prefix}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *Store) userKey(user core.UserID) string { return s.key("user", string(user)) }
func (s *Store) usersKey() string                { return s.key("users") }
func (s *Store) progressKey(user core.UserID, challenge string) string {
	return s.key("progress", string(user), challenge)
}
func (s *Store) seasonEntriesKey(id string) string { return s.key("season", id, "entries") }
func (s *Store) seasonRanksKey(id string) string   { return s.key("season", id, "ranks") }

// scriptErr maps script error replies to domain errors.
func scriptErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "NOUSER"):
		return core.ErrUserNotFound
	case strings.Contains(msg, "NEGATIVE"):
		return core.ErrNegativeXP
	case strings.Contains(msg, "FUNDS"):
		return core.ErrInsufficientFunds
	}
	return err
}

func nanos(t time.Time) string { return strconv.FormatInt(t.UTC().UnixNano(), 10) }

func fromNanos(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func parseUser(id core.UserID, h map[string]string) core.UserProgress {
	num := func(k string) int64 {
		v, _ := strconv.ParseInt(h[k], 10, 64)
		return v
	}
	return core.UserProgress{
		UserID:              id,
		XP:                  num("xp"),
		Level:               num("level"),
		Wallet:              num("wallet"),
		Followers:           num("followers"),
		Influence:           num("influence"),
		StreakDays:          num("streak_days"),
		ChallengesCompleted: num("challenges_completed"),
		Updated:             fromNanos(h["updated_at"]),
	}
}

// flatToMap converts an HGETALL reply returned from a script.
func flatToMap(v any) (map[string]string, error) {
	arr, ok := v.([]any)
	if !ok || len(arr)%2 != 0 {
		return nil, errors.New("unexpected script reply")
	}
	out := make(map[string]string, len(arr)/2)
	for i := 0; i < len(arr); i += 2 {
		k, _ := arr[i].(string)
		val, _ := arr[i+1].(string)
		out[k] = val
	}
	return out, nil
}

func (s *Store) runUserScript(ctx context.Context, script *redis.Script, user core.UserID, keys []string, args ...any) (core.UserProgress, error) {
	res, err := script.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return core.UserProgress{}, scriptErr(err)
	}
	h, err := flatToMap(res)
	if err != nil {
		return core.UserProgress{}, err
	}
	return parseUser(user, h), nil
}

func (s *Store) CreateUser(ctx context.Context, user core.UserID) (core.UserProgress, error) {
	key := s.userKey(user)
	now := nanos(time.Now())
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for field, v := range map[string]string{
			"xp": "0", "level": "1", "wallet": "0", "followers": "0", "influence": "0",
			"streak_days": "0", "challenges_completed": "0", "updated_at": now,
		} {
			pipe.HSetNX(ctx, key, field, v)
		}
		pipe.SAdd(ctx, s.usersKey(), string(user))
		return nil
	})
	if err != nil {
		return core.UserProgress{}, fmt.Errorf("failed to create user: %w", err)
	}
	return s.GetProgress(ctx, user)
}

func (s *Store) GetProgress(ctx context.Context, user core.UserID) (core.UserProgress, error) {
	h, err := s.client.HGetAll(ctx, s.userKey(user)).Result()
	if err != nil {
		return core.UserProgress{}, fmt.Errorf("failed to get user: %w", err)
	}
	if len(h) == 0 {
		return core.UserProgress{}, core.ErrUserNotFound
	}
	return parseUser(user, h), nil
}

func (s *Store) ListProgress(ctx context.Context) ([]core.UserProgress, error) {
	ids, err := s.client.SMembers(ctx, s.usersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	sort.Strings(ids)
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.userKey(core.UserID(id)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	out := make([]core.UserProgress, 0, len(ids))
	for i, id := range ids {
		if h := cmds[i].Val(); len(h) > 0 {
			out = append(out, parseUser(core.UserID(id), h))
		}
	}
	return out, nil
}

var updateStatsScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return redis.error_reply('NOUSER')
	end
	redis.call('HSET', KEYS[1], 'followers', ARGV[1], 'influence', ARGV[2], 'streak_days', ARGV[3], 'updated_at', ARGV[4])
	return redis.call('HGETALL', KEYS[1])
`)

func (s *Store) UpdateSocialStats(ctx context.Context, user core.UserID, stats core.SocialStats) (core.UserProgress, error) {
	return s.runUserScript(ctx, updateStatsScript, user, []string{s.userKey(user)},
		stats.Followers, stats.Influence, stats.StreakDays, nanos(time.Now()))
}

var spendScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return redis.error_reply('NOUSER')
	end
	local wallet = tonumber(redis.call('HGET', KEYS[1], 'wallet') or '0')
	if wallet < tonumber(ARGV[1]) then
		return redis.error_reply('FUNDS')
	end
	redis.call('HINCRBY', KEYS[1], 'wallet', -tonumber(ARGV[1]))
	redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
	return redis.call('HGETALL', KEYS[1])
`)

func (s *Store) SpendWallet(ctx context.Context, user core.UserID, amount int64) (core.UserProgress, error) {
	return s.runUserScript(ctx, spendScript, user, []string{s.userKey(user)}, amount, nanos(time.Now()))
}

// applyXPScript appends the ledger entry, moves xp, level and wallet, and
// credits the active season as one script execution.
//
// KEYS: user hash, ledger zset, ledger entries hash, user ledger list, season:active
// ARGV: amount, entry id, entry json, score, updated_at, xp per level, user id, season key prefix
var applyXPScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return redis.error_reply('NOUSER')
	end
	local amount = tonumber(ARGV[1])
	local xp = tonumber(redis.call('HGET', KEYS[1], 'xp') or '0')
	if xp + amount < 0 then
		return redis.error_reply('NEGATIVE')
	end
	local nextxp = redis.call('HINCRBY', KEYS[1], 'xp', ARGV[1])
	local level = math.floor(nextxp / tonumber(ARGV[6])) + 1
	redis.call('HSET', KEYS[1], 'level', level, 'updated_at', ARGV[5])
	if amount > 0 then
		redis.call('HINCRBY', KEYS[1], 'wallet', ARGV[1])
	end
	redis.call('HSET', KEYS[3], ARGV[2], ARGV[3])
	redis.call('ZADD', KEYS[2], ARGV[4], ARGV[2])
	redis.call('RPUSH', KEYS[4], ARGV[2])
	local season = redis.call('GET', KEYS[5])
	if season then
		redis.call('HINCRBY', ARGV[8] .. season .. ':entries', ARGV[7], ARGV[1])
	end
	return redis.call('HGETALL', KEYS[1])
`)

func (s *Store) ApplyXP(ctx context.Context, entry core.LedgerEntry) (core.UserProgress, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return core.UserProgress{}, fmt.Errorf("failed to encode ledger entry: %w", err)
	}
	keys := []string{
		s.userKey(entry.UserID),
		s.key("ledger"),
		s.key("ledger", "entries"),
		s.key("user", string(entry.UserID), "ledger"),
		s.key("season", "active"),
	}
	return s.runUserScript(ctx, applyXPScript, entry.UserID, keys,
		entry.Amount,
		entry.ID,
		string(data),
		entry.CreatedAt.UTC().UnixMicro(),
		nanos(entry.CreatedAt),
		core.XPPerLevel,
		string(entry.UserID),
		s.key("season")+":",
	)
}

func (s *Store) loadEntries(ctx context.Context, ids []string) ([]core.LedgerEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := s.client.HMGet(ctx, s.key("ledger", "entries"), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}
	out := make([]core.LedgerEntry, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var e core.LedgerEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to decode ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) ListLedger(ctx context.Context, user core.UserID) ([]core.LedgerEntry, error) {
	ids, err := s.client.LRange(ctx, s.key("user", string(user), "ledger"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	return s.loadEntries(ctx, ids)
}

func (s *Store) SumLedgerSince(ctx context.Context, since time.Time) (map[core.UserID]int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.key("ledger"), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UTC().UnixMicro(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger: %w", err)
	}
	entries, err := s.loadEntries(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[core.UserID]int64, len(entries))
	for _, e := range entries {
		out[e.UserID] += e.Amount
	}
	return out, nil
}

var _ engine.Storage = (*Store)(nil)
