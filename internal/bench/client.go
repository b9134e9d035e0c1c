package bench

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/conduitio/bwlimit"

	"satsim/internal/execx"
)

// TransferClient pushes a payload file to addr ("host:port").
type TransferClient interface {
	Send(ctx context.Context, addr, path string) error
}

// TCPClient streams the payload over a plain TCP connection, half-closes it
// and drains whatever the peer answers. A positive RateLimitKbps caps the
// send rate on the client side.
type TCPClient struct {
	DialTimeout   time.Duration
	RateLimitKbps float64
}

func (c TCPClient) Send(ctx context.Context, addr, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	d := net.Dialer{Timeout: c.DialTimeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer raw.Close()

	conn := raw
	if c.RateLimitKbps > 0 {
		conn = bwlimit.NewConn(raw, bwlimit.Byte(c.RateLimitKbps*1000/8), 0)
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := io.Copy(conn, f); err != nil {
		return c.wrap(ctx, fmt.Errorf("send: %w", err))
	}
	if tc, ok := raw.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			return c.wrap(ctx, err)
		}
	}
	if _, err := io.Copy(io.Discard, conn); err != nil {
		return c.wrap(ctx, fmt.Errorf("drain: %w", err))
	}
	return nil
}

func (TCPClient) wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// CommandClient runs an external command per transfer with the payload on
// stdin. Template placeholders {host}, {port} and {file} are substituted,
// e.g. "nc -N {host} {port}".
type CommandClient struct {
	Runner   execx.Runner
	Template string
}

func (c CommandClient) Send(ctx context.Context, addr, path string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	name, args, err := execx.ParseTemplate(c.Template, map[string]string{
		"host": host,
		"port": port,
		"file": path,
	})
	if err != nil {
		return fmt.Errorf("transfer_command: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.Runner.RunInput(ctx, f, name, args...)
}
