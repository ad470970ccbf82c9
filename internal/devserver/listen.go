package devserver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
)

// maxFrame bounds a single frame; jump tables of large patches run to a few
// hundred KiB.
const maxFrame = 4 << 20

// ListenOption configures Listen.
type ListenOption func(*listenConfig)

type listenConfig struct {
	decoder *Decoder
	dropped func(err error)
}

// WithDecoder uses d instead of the shared decoder.
func WithDecoder(d *Decoder) ListenOption {
	return func(c *listenConfig) { c.decoder = d }
}

// WithDropped calls fn for every malformed frame after it is logged.
func WithDropped(fn func(err error)) ListenOption {
	return func(c *listenConfig) { c.dropped = fn }
}

// Listen reads frames from r until EOF, ctx cancellation or a read error,
// passing each valid message to handle. Malformed frames are logged and
// dropped. When r is an io.Closer it is closed on cancellation to unblock
// the pending read.
//
// Returns nil at EOF and ctx.Err() after cancellation.
func Listen(ctx context.Context, r io.Reader, handle func(Message), opts ...ListenOption) error {
	cfg := listenConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.decoder == nil {
		d, err := defaultDecoder()
		if err != nil {
			return err
		}
		cfg.decoder = d
	}

	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	br := bufio.NewReaderSize(r, 64<<10)
	for {
		line, err := readFrame(br, maxFrame)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, ErrFrameTooLarge) {
			slog.Warn("dropping devserver message", "error", err)
			if cfg.dropped != nil {
				cfg.dropped(err)
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read devserver messages: %w", err)
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		msg, err := cfg.decoder.Decode(line)
		if err != nil {
			slog.Warn("dropping devserver message", "error", err)
			if cfg.dropped != nil {
				cfg.dropped(err)
			}
			continue
		}
		slog.Debug("devserver message", "type", msg.Type, "jump_table", msg.HasJumpTable())
		handle(msg)
	}
}

// readFrame returns the next newline-terminated line without its newline.
// A line longer than limit is consumed through its newline and reported as
// ErrFrameTooLarge. An unterminated final line is returned before io.EOF.
func readFrame(br *bufio.Reader, limit int) ([]byte, error) {
	var (
		line    []byte
		size    int
		tooLong bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		n := len(chunk)
		if n > 0 && chunk[n-1] == '\n' {
			n--
		}
		size += n
		if size > limit {
			tooLong = true
			line = nil
		}
		if !tooLong {
			line = append(line, chunk[:n]...)
		}

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == nil:
		case errors.Is(err, io.EOF) && (size > 0 || tooLong):
		default:
			return nil, err
		}
		if tooLong {
			return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, size, limit)
		}
		return line, nil
	}
}

// Open connects to a message source:
//
//	stdin              standard input
//	file:<path>        a file of frames
//	unix:<path>        a unix socket
//	tcp:<host:port>    a TCP endpoint
//
// "none" and "" return ErrUnknownSource wrapped with a hint; callers treat
// them as "no delivery channel".
func Open(ctx context.Context, source string) (io.ReadCloser, error) {
	if source == "stdin" {
		return io.NopCloser(os.Stdin), nil
	}
	kind, addr, ok := strings.Cut(source, ":")
	if !ok || addr == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	switch kind {
	case "file":
		f, err := os.Open(addr)
		if err != nil {
			return nil, fmt.Errorf("open message source: %w", err)
		}
		return f, nil
	case "unix", "tcp":
		return Dial(ctx, kind, addr)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
}

// Dial connects to a devserver over network ("unix" or "tcp").
func Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial devserver %s:%s: %w", network, addr, err)
	}
	return conn, nil
}
