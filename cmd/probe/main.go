// Command probe sends a request through a running relay and prints the reply.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/matst80/tlsrelay/internal/config"
)

func main() {
	flag.Parse()
	addrSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "addr" {
			addrSet = true
		}
	})
	if cfg.ConfigPath != "" && !addrSet {
		rc, err := config.Load(cfg.ConfigPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg.Addr = rc.Listen.Addr()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	failed := 0
	for i := 0; cfg.Count == 0 || i < cfg.Count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.Interval):
			}
		}
		start := time.Now()
		reply, err := probe(ctx, cfg.Addr, []byte(cfg.Message), cfg.Timeout)
		if err != nil {
			failed++
			log.Printf("probe %s failed after %s: %v", cfg.Addr, time.Since(start).Round(time.Millisecond), err)
			continue
		}
		log.Printf("probe %s: %d bytes in %s: %q", cfg.Addr, len(reply), time.Since(start).Round(time.Millisecond), reply)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// errNoReply is returned when the relay closes without sending anything,
// which is how it reports upstream failures.
var errNoReply = errors.New("connection closed without a reply")

// probe writes msg to the relay and reads until the relay closes the
// connection.
func probe(ctx context.Context, addr string, msg []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.SetDeadline(dl)
	}
	if _, err := c.Write(msg); err != nil {
		return nil, err
	}
	reply, err := io.ReadAll(c)
	if err != nil && len(reply) == 0 {
		return nil, err
	}
	if len(reply) == 0 {
		return nil, errNoReply
	}
	return reply, nil
}
