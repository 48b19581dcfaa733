package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"example.com/isogate/internal/common"
)

const (
	ackReply  = "ACK: Message parsed successfully\n"
	tcpSource = "tcp"
)

// TCPListener accepts one ISO 8583 message per connection. The client
// writes the message and half-closes; the listener replies with one ACK
// or ERR line and closes.
type TCPListener struct {
	Processor       *Processor
	MaxMessageBytes int
	ReadTimeout     time.Duration
}

// NewTCPListener builds a listener from the same options as the HTTP server.
func NewTCPListener(opts Options) (*TCPListener, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	return &TCPListener{
		Processor:       opts.Processor(),
		MaxMessageBytes: opts.MaxMessageBytes,
		ReadTimeout:     opts.ReadTimeout,
	}, nil
}

// Serve accepts connections until ctx is cancelled or ln fails, then waits
// for in-flight connections to finish.
func (l *TCPListener) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	common.Logf("[tcp] listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.handle(conn)
		}()
	}
}

func (l *TCPListener) handle(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	common.Logf("[tcp] connection from %s", remote)

	timeout := l.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	limit := l.MaxMessageBytes
	if limit <= 0 {
		limit = DefaultMaxMessageBytes
	}
	_ = conn.SetDeadline(time.Now().Add(timeout))

	data, err := io.ReadAll(io.LimitReader(conn, int64(limit)+1))
	if err != nil {
		var ne net.Error
		if !(errors.As(err, &ne) && ne.Timeout() && len(data) > 0) {
			common.Logf("[tcp] read from %s: %v", remote, err)
			return
		}
		// Clients that never half-close are answered once the deadline passes.
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	if len(data) > limit {
		// Unread input at close would reset the connection before the reply lands.
		_, _ = io.Copy(io.Discard, io.LimitReader(conn, 1<<20))
		l.reply(conn, remote, fmt.Sprintf("ERR: message exceeds %d bytes\n", limit))
		return
	}
	message := strings.TrimSpace(string(data))
	if _, err := l.Processor.Process(tcpSource, remote, message); err != nil {
		l.reply(conn, remote, "ERR: "+err.Error()+"\n")
		return
	}
	l.reply(conn, remote, ackReply)
}

func (l *TCPListener) reply(conn net.Conn, remote, line string) {
	if _, err := io.WriteString(conn, line); err != nil {
		common.Logf("[tcp] write to %s: %v", remote, err)
	}
}
