// Package remote drives a chassis daemon over its line-oriented TCP protocol.
//
// Every command is one text line. The daemon answers with one integer status
// line: a negative value is an error code, a non-negative value is the length
// of the binary payload that follows.
package remote

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/quadlo/internal/logging"
)

// ENOSYS is the status returned for commands the daemon does not implement.
const ENOSYS = -38

// ErrNotSupported matches a StatusError carrying ENOSYS.
var ErrNotSupported = errors.New("command not supported by daemon")

// StatusError is a negative reply status.
type StatusError struct {
	Command string
	Code    int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: daemon status %d", e.Command, e.Code)
}

// Is makes errors.Is(err, ErrNotSupported) true for ENOSYS replies.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotSupported && e.Code == ENOSYS
}

// Options tune the connection.
type Options struct {
	// DialTimeout bounds one connection attempt.
	DialTimeout time.Duration
	// RetryFor bounds the total time spent reconnecting. Zero means 10s.
	RetryFor time.Duration
	// IOTimeout bounds each command round trip that has no explicit timeout.
	IOTimeout time.Duration
	Logger    logging.Logger
}

func (o *Options) defaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 3 * time.Second
	}
	if o.RetryFor <= 0 {
		o.RetryFor = 10 * time.Second
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
}

// Conn is one protocol session. Commands are serialized.
type Conn struct {
	addr string
	opts Options

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

// Dial connects to a daemon, retrying with exponential backoff until
// RetryFor elapses or ctx is cancelled.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	opts.defaults()
	c := &Conn{addr: addr, opts: opts}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) connect(ctx context.Context) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxElapsedTime = c.opts.RetryFor

	var conn net.Conn
	op := func() error {
		d := net.Dialer{Timeout: c.opts.DialTimeout}
		var err error
		conn, err = d.DialContext(ctx, "tcp", c.addr)
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.opts.Logger.Warn("chassis dial failed, retrying",
			logging.Field{Key: "addr", Value: c.addr},
			logging.Field{Key: "wait", Value: wait.String()},
			logging.Err(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(eb, ctx), notify); err != nil {
		return fmt.Errorf("connect to chassis at %s: %w", c.addr, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.writer = bufio.NewWriter(conn)
	c.opts.Logger.Info("chassis connected", logging.Field{Key: "addr", Value: c.addr})
	return nil
}

// Addr returns the daemon address.
func (c *Conn) Addr() string { return c.addr }

// Close closes the session.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ensureNewline terminates a command line.
func ensureNewline(s string) string {
	if !strings.HasSuffix(s, "\n") {
		return s + "\n"
	}
	return s
}

// Command sends one command line, optionally followed by a binary payload,
// and returns the reply payload. timeout overrides the default round-trip
// bound when positive.
func (c *Conn) Command(ctx context.Context, line string, payload []byte, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, fmt.Errorf("%s: connection closed", verb(line))
	}
	if timeout <= 0 {
		timeout = c.opts.IOTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := c.writer.WriteString(ensureNewline(line)); err != nil {
		return nil, fmt.Errorf("%s: write: %w", verb(line), err)
	}
	if len(payload) > 0 {
		if _, err := c.writer.Write(payload); err != nil {
			return nil, fmt.Errorf("%s: write payload: %w", verb(line), err)
		}
	}
	if err := c.writer.Flush(); err != nil {
		return nil, fmt.Errorf("%s: flush: %w", verb(line), err)
	}

	status, err := c.readStatus()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", verb(line), err)
	}
	if status < 0 {
		return nil, &StatusError{Command: verb(line), Code: status}
	}
	if status == 0 {
		return nil, nil
	}
	buf := make([]byte, status)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return nil, fmt.Errorf("%s: read payload: %w", verb(line), err)
	}
	return buf, nil
}

// readStatus reads the integer status line.
func (c *Conn) readStatus() (int, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("read status: %w", err)
	}
	line = strings.TrimSpace(line)
	v, err := strconv.Atoi(line)
	if err != nil {
		return 0, fmt.Errorf("malformed status %q", line)
	}
	return v, nil
}

func verb(line string) string {
	if i := strings.IndexByte(line, ' '); i > 0 {
		return line[:i]
	}
	return strings.TrimSpace(line)
}
