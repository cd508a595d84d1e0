// Package workload generates connect syscall volume against a target and
// provides the accept-only server that serves as that target.
package workload

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

const (
	DefaultClientHost = "127.0.0.1"
	DefaultPort       = 18080
	DefaultCount      = 10000
	DefaultTimeout    = time.Second
)

// Result summarizes one workload run. Counts only include attempts that
// completed before the run ended.
type Result struct {
	Success int
	Fail    int
	Elapsed time.Duration
}

// Rate is successful connects per second, zero for an empty run.
func (r Result) Rate() float64 {
	secs := r.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(r.Success) / secs
}

func (r Result) String() string {
	return fmt.Sprintf("success=%d, fail=%d, elapsed=%.2fs, rate=%.0f conn/s",
		r.Success, r.Fail, r.Elapsed.Seconds(), r.Rate())
}

// Client issues connect attempts back to back, one in flight at a time, so
// the measured rate reflects a single saturating caller.
type Client struct {
	addr    string
	timeout time.Duration
}

func NewClient(host string, port int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		timeout: timeout,
	}
}

func (c *Client) Addr() string {
	return c.addr
}

// Run performs up to count connect attempts. Each established connection is
// closed immediately without exchanging data; refused, timed out and other
// transport errors all count as failures and are not retried. Cancelling ctx
// stops the loop, and an attempt cut short by the cancellation is not counted.
func (c *Client) Run(ctx context.Context, count int) Result {
	var res Result
	dialer := net.Dialer{Timeout: c.timeout}
	slog.Debug("Workload started", "target", c.addr, "count", count, "timeout", c.timeout)

	start := time.Now()
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			break
		}
		conn, err := dialer.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			res.Fail++
			continue
		}
		conn.Close()
		res.Success++
	}
	res.Elapsed = time.Since(start)

	slog.Debug("Workload finished", "target", c.addr, "success", res.Success, "fail", res.Fail, "interrupted", ctx.Err() != nil)
	return res
}
