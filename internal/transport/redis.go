package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	historyLen = 200
	historyTTL = 24 * time.Hour
)

// Redis carries protocol lines over pub/sub. The peer publishes on
// "<channel>:in" and the board publishes on "<channel>:out". Outbound lines
// are also kept in a capped list "<channel>:log".
type Redis struct {
	rdb     *redis.Client
	ownsRdb bool
	channel string
	log     *zap.Logger

	sub   *redis.PubSub
	lines chan string
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// DialRedis connects using a redis:// or rediss:// URL.
func DialRedis(ctx context.Context, redisURL, channel string, logger *zap.Logger) (*Redis, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis transport")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	r, err := NewRedis(ctx, rdb, channel, logger)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	r.ownsRdb = true
	return r, nil
}

// NewRedis subscribes on an existing client. The client stays owned by the caller.
func NewRedis(ctx context.Context, rdb *redis.Client, channel string, logger *zap.Logger) (*Redis, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, fmt.Errorf("redis channel required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Redis{
		rdb:     rdb,
		channel: channel,
		log:     logger,
		lines:   make(chan string, lineBuffer),
		done:    make(chan struct{}),
	}
	r.sub = rdb.Subscribe(ctx, r.keyIn())
	// Wait for the subscription to be confirmed so no early line is lost.
	if _, err := r.sub.Receive(ctx); err != nil {
		_ = r.sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", r.keyIn(), err)
	}
	r.wg.Add(1)
	go r.readLoop()
	return r, nil
}

func (r *Redis) keyIn() string  { return r.channel + ":in" }
func (r *Redis) keyOut() string { return r.channel + ":out" }
func (r *Redis) keyLog() string { return r.channel + ":log" }

func (r *Redis) readLoop() {
	defer r.wg.Done()
	defer close(r.lines)
	ch := r.sub.Channel()
	for {
		select {
		case <-r.done:
			return
		case msg, ok := <-ch:
			if !ok {
				r.log.Info("redis_subscription_closed", zap.String("channel", r.keyIn()))
				return
			}
			for _, line := range strings.Split(msg.Payload, "\n") {
				line = cleanLine(line)
				if line == "" {
					continue
				}
				select {
				case r.lines <- line:
				case <-r.done:
					return
				}
			}
		}
	}
}

func (r *Redis) Lines() <-chan string { return r.lines }

func (r *Redis) Send(line string) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.keyOut(), line).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.LPush(ctx, r.keyLog(), line)
	pipe.LTrim(ctx, r.keyLog(), 0, historyLen-1)
	pipe.Expire(ctx, r.keyLog(), historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn("redis_history_failed", zap.Error(err))
	}
	return nil
}

// History returns the most recent outbound lines, newest first.
func (r *Redis) History(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		n = historyLen
	}
	return r.rdb.LRange(ctx, r.keyLog(), 0, int64(n-1)).Result()
}

func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		err = r.sub.Close()
		r.wg.Wait()
		if r.ownsRdb {
			if cerr := r.rdb.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{ServerName: u.Hostname(), MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}
