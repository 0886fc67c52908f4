package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTreeKey      = "roomsync:tree"
	DefaultChannel      = "roomsync:writes"
	DefaultPingInterval = 5 * time.Second

	scanCount = 500
)

// Every leaf of the tree is one field of a single hash, so a multi-path write
// is one script call and therefore atomic.
//
// KEYS[1] tree hash
// ARGV    nclear, prefix..., nancestors, field..., npairs, field, value, ...
var updateScript = redis.NewScript(`
local tree = KEYS[1]
local idx = 1
local nclear = tonumber(ARGV[idx]); idx = idx + 1
local prefixes = {}
for c = 1, nclear do
  prefixes[c] = ARGV[idx]; idx = idx + 1
end
if nclear > 0 then
  local fields = redis.call('HKEYS', tree)
  for _, f in ipairs(fields) do
    for _, p in ipairs(prefixes) do
      if f == p or string.sub(f, 1, #p + 1) == p .. '/' then
        redis.call('HDEL', tree, f)
        break
      end
    end
  end
end
local nanc = tonumber(ARGV[idx]); idx = idx + 1
for c = 1, nanc do
  redis.call('HDEL', tree, ARGV[idx]); idx = idx + 1
end
local npairs = tonumber(ARGV[idx]); idx = idx + 1
for c = 1, npairs do
  redis.call('HSET', tree, ARGV[idx], ARGV[idx + 1]); idx = idx + 2
end
return npairs
`)

// RedisOptions configures a RedisStore
type RedisOptions struct {
	TreeKey      string
	Channel      string
	PingInterval time.Duration
}

// RedisStore keeps the tree in one Redis hash and fans writes out to every
// process through a pub/sub channel.
type RedisStore struct {
	client  *redis.Client
	opts    RedisOptions
	clock   clock.Clock
	logger  *logrus.Logger
	hub     *hub
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closeMu sync.Once
}

// OpenRedis parses a redis:// URL and opens a store on it
func OpenRedis(ctx context.Context, url string, opts RedisOptions, logger *logrus.Logger) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisStore(ctx, redis.NewClient(redisOpts), opts, nil, logger)
}

// NewRedisStore wraps client. The store owns the client and closes it on
// Close. Writes are announced on opts.Channel so every process sharing the
// tree sees them.
func NewRedisStore(ctx context.Context, client *redis.Client, opts RedisOptions, clk clock.Clock, logger *logrus.Logger) (*RedisStore, error) {
	if opts.TreeKey == "" {
		opts.TreeKey = DefaultTreeKey
	}
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logrus.New()
	}

	s := &RedisStore{
		client: client,
		opts:   opts,
		clock:  clk,
		logger: logger,
	}
	s.hub = newHub(s.read, logger)

	pubsub := client.Subscribe(ctx, opts.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, mapRedisError(err)
	}
	s.pubsub = pubsub

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go s.receive()
	go s.pingLoop(runCtx, clk.Ticker(opts.PingInterval))

	logger.WithFields(logrus.Fields{
		"tree_key": opts.TreeKey,
		"channel":  opts.Channel,
	}).Info("Redis store ready")

	return s, nil
}

func (s *RedisStore) receive() {
	defer s.wg.Done()
	for msg := range s.pubsub.Channel() {
		s.hub.notify(msg.Payload)
	}
}

func (s *RedisStore) pingLoop(ctx context.Context, ticker *clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.Ping(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil && s.hub.isConnected() {
				s.logger.WithError(err).Warn("Redis store unreachable")
			}
			s.hub.setConnected(err == nil)
		}
	}
}

func (s *RedisStore) Get(ctx context.Context, path string) (any, error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, normalized)
}

func (s *RedisStore) read(ctx context.Context, path string) (any, error) {
	leaf, err := s.client.HGet(ctx, s.opts.TreeKey, path).Result()
	if err == nil {
		return decodeJSON([]byte(leaf))
	}
	if !errors.Is(err, redis.Nil) {
		return nil, mapRedisError(err)
	}

	leaves, err := s.scan(ctx, escapeGlob(path)+"/*")
	if err != nil {
		return nil, err
	}
	return unflatten(path, leaves)
}

// scan collects every field matching pattern. It walks the whole tree hash, so
// its cost grows with the number of rooms stored in it.
func (s *RedisStore) scan(ctx context.Context, pattern string) (map[string]string, error) {
	leaves := make(map[string]string)
	var cursor uint64
	for {
		kv, next, err := s.client.HScan(ctx, s.opts.TreeKey, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, mapRedisError(err)
		}
		for i := 0; i+1 < len(kv); i += 2 {
			leaves[kv[i]] = kv[i+1]
		}
		if next == 0 {
			return leaves, nil
		}
		cursor = next
	}
}

func (s *RedisStore) Set(ctx context.Context, path string, value any) error {
	return s.Update(ctx, map[string]any{path: value})
}

func (s *RedisStore) Remove(ctx context.Context, path string) error {
	return s.Update(ctx, map[string]any{path: nil})
}

func (s *RedisStore) Update(ctx context.Context, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	paths, values, err := prepareUpdate(updates)
	if err != nil {
		return err
	}

	now := s.clock.Now().UnixMilli()
	args := []any{len(paths)}
	for _, path := range paths {
		args = append(args, path)
	}

	var ancestorFields []string
	seen := make(map[string]bool)
	for _, path := range paths {
		for _, a := range ancestors(path) {
			if !seen[a] {
				seen[a] = true
				ancestorFields = append(ancestorFields, a)
			}
		}
	}
	args = append(args, len(ancestorFields))
	for _, a := range ancestorFields {
		args = append(args, a)
	}

	var pairs []any
	for _, path := range paths {
		leaves, err := flatten(path, values[path], now)
		if err != nil {
			return err
		}
		for field, value := range leaves {
			pairs = append(pairs, field, value)
		}
	}
	args = append(args, len(pairs)/2)
	args = append(args, pairs...)

	if err := updateScript.Run(ctx, s.client, []string{s.opts.TreeKey}, args...).Err(); err != nil {
		return mapRedisError(err)
	}

	pipe := s.client.Pipeline()
	for _, path := range paths {
		pipe.Publish(ctx, s.opts.Channel, path)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).WithField("paths", paths).Warn("Failed to announce write")
	}
	return nil
}

func (s *RedisStore) FindChild(ctx context.Context, parent, childPath string, value any) (string, bool, error) {
	parent, err := NormalizePath(parent)
	if err != nil {
		return "", false, err
	}
	childPath, err = NormalizePath(childPath)
	if err != nil {
		return "", false, err
	}
	want, err := leafValue(value)
	if err != nil {
		return "", false, err
	}

	leaves, err := s.scan(ctx, escapeGlob(parent)+"/*/"+escapeGlob(childPath))
	if err != nil {
		return "", false, err
	}

	var keys []string
	for field, leaf := range leaves {
		if leaf != want {
			continue
		}
		if key, ok := childKey(field, parent, childPath); ok {
			keys = append(keys, key)
		}
	}
	key, ok := firstKey(keys)
	return key, ok, nil
}

func (s *RedisStore) Subscribe(path string, fn func(Snapshot)) (func(), error) {
	return s.hub.subscribe(path, fn)
}

func (s *RedisStore) WatchConnection(fn func(connected bool)) func() {
	return s.hub.watchConnection(fn)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return mapRedisError(s.client.Ping(ctx).Err())
}

func (s *RedisStore) Close() error {
	var err error
	s.closeMu.Do(func() {
		s.cancel()
		s.hub.close()
		if cerr := s.pubsub.Close(); cerr != nil {
			s.logger.WithError(cerr).Debug("Failed to close pubsub")
		}
		s.wg.Wait()
		err = s.client.Close()
	})
	return err
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// mapRedisError attaches store codes to client failures
func mapRedisError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, redis.ErrClosed) {
		return &Error{Code: CodeDisconnected, Message: "redis client closed", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &Error{Code: CodeNetworkError, Message: "redis unreachable", Err: err}
	}

	msg := err.Error()
	for _, prefix := range []string{"NOAUTH", "WRONGPASS", "NOPERM"} {
		if strings.HasPrefix(msg, prefix) {
			return &Error{Code: CodePermissionDenied, Message: "redis rejected credentials", Err: err}
		}
	}
	return fmt.Errorf("redis: %w", err)
}
