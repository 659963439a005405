package status

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/matst80/tlsrelay/internal/obs"
	"github.com/matst80/tlsrelay/internal/proto"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures RedisSink.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Channel receives every line via PUBLISH.
	Channel string
	// List keeps the latest MaxLen lines (newest first).
	List   string
	MaxLen int
	// Queue bounds lines waiting to be written; extra lines are dropped.
	Queue int
}

// RedisSink publishes status lines to Redis from a background goroutine so a
// slow or unavailable Redis never delays a session.
type RedisSink struct {
	client *redis.Client
	opts   RedisOptions
	queue  chan Line
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewRedisSink connects and pings Redis before returning.
func NewRedisSink(ctx context.Context, opts RedisOptions) (*RedisSink, error) {
	if opts.Queue <= 0 {
		opts.Queue = 1024
	}
	rdb := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB, DialTimeout: 2 * time.Second})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	s := &RedisSink{client: rdb, opts: opts, queue: make(chan Line, opts.Queue), stop: make(chan struct{}), done: make(chan struct{})}
	go s.run()
	return s, nil
}

func (s *RedisSink) Publish(l Line) {
	select {
	case <-s.stop:
		return
	default:
	}
	select {
	case s.queue <- l:
	default:
		obs.StatusDroppedTotal.WithLabelValues("redis").Inc()
	}
}

// Close flushes queued lines and closes the client.
func (s *RedisSink) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return s.client.Close()
}

func (s *RedisSink) run() {
	defer close(s.done)
	for {
		select {
		case l := <-s.queue:
			s.writeOrDrop(l)
		case <-s.stop:
			for {
				select {
				case l := <-s.queue:
					s.writeOrDrop(l)
				default:
					return
				}
			}
		}
	}
}

func (s *RedisSink) writeOrDrop(l Line) {
	if err := s.write(l); err != nil {
		obs.StatusDroppedTotal.WithLabelValues("redis").Inc()
		obs.Debug("status.redis.write", obs.Fields{"err": err.Error()})
	}
}

func (s *RedisSink) write(l Line) error {
	b, err := json.Marshal(proto.StatusLine{
		TS:      l.Time.UTC().Format(time.RFC3339Nano),
		Session: l.Session,
		Event:   string(l.Event),
		Remote:  l.Remote,
		Text:    l.Text,
		Line:    l.String(),
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pipe := s.client.Pipeline()
	if s.opts.Channel != "" {
		pipe.Publish(ctx, s.opts.Channel, b)
	}
	if s.opts.List != "" && s.opts.MaxLen > 0 {
		pipe.LPush(ctx, s.opts.List, b)
		pipe.LTrim(ctx, s.opts.List, 0, int64(s.opts.MaxLen-1))
	}
	if pipe.Len() == 0 {
		return nil
	}
	_, err = pipe.Exec(ctx)
	return err
}
