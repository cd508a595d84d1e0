//go:build !linux

package workload

import (
	"context"
	"log/slog"
	"net"
	"strconv"
)

// listenTCP falls back to the runtime's listener. The backlog and reuse
// options are only applied on Linux.
func listenTCP(host string, port, backlog int) (net.Listener, error) {
	slog.Warn("Listen backlog and port reuse are not configurable on this platform", "backlog", backlog)
	var lc net.ListenConfig
	return lc.Listen(context.Background(), "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}
