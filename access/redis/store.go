// Package redis stores access records in Redis. Each identity is a hash; a
// sorted set indexes identities by request time for listing.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zahareus/telegram-transcriber-bot/access"
)

const DefaultKeyPrefix = "transcriber:access"

// The scripts run atomically on the server, which is what makes the
// check-then-write of each operation safe across processes.
var (
	beginScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state then
  return state
end
redis.call('HSET', KEYS[1],
  'state', 'pending',
  'first_name', ARGV[1],
  'last_name', ARGV[2],
  'username', ARGV[3],
  'requested_at', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[5])
return ''
`)

	resolveScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
  return 'unknown'
end
if state ~= 'pending' then
  return 'not_pending'
end
redis.call('HSET', KEYS[1], 'state', ARGV[1], 'decided_at', ARGV[2])
return 'applied'
`)

	revertScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') == 'pending' then
  redis.call('DEL', KEYS[1])
  redis.call('ZREM', KEYS[2], ARGV[1])
  return 1
end
return 0
`)
)

type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ access.Store = (*Store)(nil)

// New returns a store using keys under prefix; an empty prefix selects
// DefaultKeyPrefix.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Open parses a redis:// URL and checks the server is reachable.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (s *Store) recordKey(id access.Identity) string {
	return s.prefix + ":record:" + id.String()
}

func (s *Store) indexKey() string {
	return s.prefix + ":records"
}

func (s *Store) Lookup(ctx context.Context, id access.Identity) (access.Record, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return access.Record{}, false, fmt.Errorf("lookup %d: %w", id, err)
	}
	if len(fields) == 0 {
		return access.Record{}, false, nil
	}
	rec, err := decodeRecord(id, fields)
	if err != nil {
		return access.Record{}, false, fmt.Errorf("lookup %d: %w", id, err)
	}
	return rec, true, nil
}

func (s *Store) BeginRequest(
	ctx context.Context,
	id access.Identity,
	profile access.Profile,
) (access.BeginOutcome, error) {
	existing, err := beginScript.Run(
		ctx,
		s.client,
		[]string{s.recordKey(id), s.indexKey()},
		profile.FirstName,
		profile.LastName,
		profile.Username,
		s.now().UnixMilli(),
		id.String(),
	).Text()
	if err != nil {
		return 0, fmt.Errorf("begin request %d: %w", id, err)
	}
	if existing == "" {
		return access.Created, nil
	}

	state, err := access.ParseState(existing)
	if err != nil {
		return 0, fmt.Errorf("begin request %d: %w", id, err)
	}
	return access.OutcomeFor(state), nil
}

func (s *Store) Resolve(
	ctx context.Context,
	id access.Identity,
	d access.Decision,
) (access.ResolveOutcome, access.Record, error) {
	if !d.Valid() {
		return access.Unknown, access.Record{}, fmt.Errorf("%w: %d", access.ErrInvalidDecision, d)
	}

	result, err := resolveScript.Run(
		ctx,
		s.client,
		[]string{s.recordKey(id)},
		string(d.State()),
		s.now().UnixMilli(),
	).Text()
	if err != nil {
		return access.Unknown, access.Record{}, fmt.Errorf("resolve %d: %w", id, err)
	}

	var outcome access.ResolveOutcome
	switch result {
	case "applied":
		outcome = access.Applied
	case "not_pending":
		outcome = access.NotPending
	default:
		return access.Unknown, access.Record{}, nil
	}

	// Decided records never change again, so this read sees the final state.
	rec, ok, err := s.Lookup(ctx, id)
	if err != nil {
		return outcome, access.Record{}, err
	}
	if !ok {
		return access.Unknown, access.Record{}, nil
	}
	return outcome, rec, nil
}

func (s *Store) RevertToUnregistered(ctx context.Context, id access.Identity) (bool, error) {
	n, err := revertScript.Run(
		ctx,
		s.client,
		[]string{s.recordKey(id), s.indexKey()},
		id.String(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("revert %d: %w", id, err)
	}
	return n == 1, nil
}

func (s *Store) List(ctx context.Context) ([]access.Record, error) {
	members, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list access records: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(members))
	ids := make([]access.Identity, len(members))
	for i, m := range members {
		id, err := access.ParseIdentity(m)
		if err != nil {
			return nil, fmt.Errorf("list access records: %w", err)
		}
		ids[i] = id
		cmds[i] = pipe.HGetAll(ctx, s.recordKey(id))
	}
	if len(members) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("list access records: %w", err)
		}
	}

	out := make([]access.Record, 0, len(members))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeRecord(ids[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	access.SortRecords(out)
	return out, nil
}

func decodeRecord(id access.Identity, fields map[string]string) (access.Record, error) {
	state, err := access.ParseState(fields["state"])
	if err != nil {
		return access.Record{}, err
	}
	rec := access.Record{
		Identity: id,
		State:    state,
		Profile: access.Profile{
			FirstName: fields["first_name"],
			LastName:  fields["last_name"],
			Username:  fields["username"],
		},
	}
	if rec.RequestedAt, err = parseMillis(fields["requested_at"]); err != nil {
		return access.Record{}, fmt.Errorf("requested_at: %w", err)
	}
	if rec.DecidedAt, err = parseMillis(fields["decided_at"]); err != nil {
		return access.Record{}, fmt.Errorf("decided_at: %w", err)
	}
	return rec, nil
}

func parseMillis(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
