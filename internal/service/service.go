// Package service is the backend process an editor frontend talks to. It
// listens on a loopback port, announces the port on stdout and answers
// framed requests on a single loop goroutine that owns all state.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rtext-lang/rtext/internal/completion"
	"github.com/rtext-lang/rtext/internal/logger"
	"github.com/rtext-lang/rtext/internal/tooling"
	"github.com/rtext-lang/rtext/internal/wire"
)

// Banner is printed to stdout once the service listens. Frontends scan
// their backend's output for it.
const Banner = "RText service, listening on port %d\n"

// ErrNoFreePort is returned when every port of the configured range is taken
var ErrNoFreePort = errors.New("no free port in range")

// Backend answers the commands of the protocol
type Backend interface {
	LoadModel(ctx context.Context, progress func(percent int)) (tooling.LoadResult, error)
	Complete(lines []string, col int) []completion.Option
	LinkTargets(lines []string, col int) (tooling.Link, bool)
	FindElements(ctx context.Context, pattern string) ([]wire.Target, int, error)
	Invalidate(paths []string)
}

// Config holds the service settings
type Config struct {
	// Host is the interface to bind, normally the loopback address
	Host string
	// PortMin and PortMax bound the ports tried in order. Both zero picks an
	// ephemeral port.
	PortMin int
	PortMax int
	// IdleTimeout ends the service when no data arrives for this long
	IdleTimeout time.Duration
	// PollInterval bounds each wait of the loop
	PollInterval time.Duration
	// FlushInterval bounds the final drain of each connection on shutdown.
	// Writes inside the loop never wait longer than a few milliseconds.
	FlushInterval time.Duration
}

// DefaultConfig returns the standard settings
func DefaultConfig() Config {
	return Config{
		Host:          "127.0.0.1",
		PortMin:       9001,
		PortMax:       9100,
		IdleTimeout:   time.Hour,
		PollInterval:  100 * time.Millisecond,
		FlushInterval: time.Second,
	}
}

// Service is the backend server
type Service struct {
	cfg     Config
	backend Backend
	logger  *zap.Logger
	stdout  io.Writer
	changes <-chan []string

	listener net.Listener
	port     int

	conns    map[int]*conn
	nextConn int
	stopped  bool
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger.Component(l, "service")
	}
}

// WithStdout redirects the banner
func WithStdout(w io.Writer) Option {
	return func(s *Service) {
		s.stdout = w
	}
}

// WithChanges feeds changed file paths into the loop; each batch
// invalidates the backend's cached state for those files
func WithChanges(ch <-chan []string) Option {
	return func(s *Service) {
		s.changes = ch
	}
}

// New creates a service
func New(cfg Config, backend Backend, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		backend: backend,
		logger:  zap.NewNop(),
		stdout:  os.Stdout,
		conns:   make(map[int]*conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds the first free port of the range and prints the banner
func (s *Service) Listen() error {
	if s.cfg.PortMin == 0 && s.cfg.PortMax == 0 {
		l, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, "0"))
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		s.listener = l
	} else {
		for port := s.cfg.PortMin; port <= s.cfg.PortMax; port++ {
			l, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(port)))
			if err != nil {
				s.logger.Debug("port unavailable", zap.Int(logger.FieldPort, port), zap.Error(err))
				continue
			}
			s.listener = l
			break
		}
		if s.listener == nil {
			return fmt.Errorf("%w %d-%d", ErrNoFreePort, s.cfg.PortMin, s.cfg.PortMax)
		}
	}

	s.port = s.listener.Addr().(*net.TCPAddr).Port
	s.logger.Info("listening", zap.Int(logger.FieldPort, s.port))
	if _, err := fmt.Fprintf(s.stdout, Banner, s.port); err != nil {
		s.listener.Close()
		return fmt.Errorf("failed to announce port: %w", err)
	}
	return nil
}

// Port returns the bound port
func (s *Service) Port() int {
	return s.port
}

type chunk struct {
	conn int
	data []byte
	err  error
}

// Run serves connections until a stop request, the idle timeout or ctx
// cancellation. Listen must have been called.
func (s *Service) Run(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("service is not listening")
	}

	done := make(chan struct{})
	accepted := make(chan net.Conn)
	received := make(chan chunk)
	defer s.shutdown(done)

	go s.acceptLoop(accepted, done)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	lastActivity := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("context done, stopping")
			return ctx.Err()

		case nc := <-accepted:
			lastActivity = time.Now()
			s.nextConn++
			c := newConn(s.nextConn, nc)
			s.conns[c.id] = c
			s.logger.Debug("connection accepted", zap.Int(logger.FieldConn, c.id))
			go readLoop(c, received, done)

		case ch := <-received:
			lastActivity = time.Now()
			s.receive(ctx, ch)

		case files := <-s.changes:
			s.logger.Debug("files changed", zap.Strings(logger.FieldFile, files))
			s.backend.Invalidate(files)

		case <-ticker.C:
		}

		s.flushAll()

		if s.stopped {
			s.logger.Info("stop requested")
			return nil
		}
		if s.cfg.IdleTimeout > 0 && time.Since(lastActivity) > s.cfg.IdleTimeout {
			s.logger.Info("idle timeout reached", zap.Duration("idle_timeout", s.cfg.IdleTimeout))
			return nil
		}
	}
}

func (s *Service) acceptLoop(accepted chan<- net.Conn, done <-chan struct{}) {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			select {
			case <-done:
				return
			case <-time.After(s.cfg.PollInterval):
			}
			continue
		}

		select {
		case accepted <- nc:
		case <-done:
			nc.Close()
			return
		}
	}
}

func readLoop(c *conn, received chan<- chunk, done <-chan struct{}) {
	buf := make([]byte, 64*1024)
	for {
		n, err := c.nc.Read(buf)
		data := append([]byte(nil), buf[:n]...)

		select {
		case received <- chunk{conn: c.id, data: data, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Service) receive(ctx context.Context, ch chunk) {
	c, ok := s.conns[ch.conn]
	if !ok {
		return
	}

	if len(ch.data) > 0 {
		c.decoder.Write(ch.data)
		for !s.stopped {
			m, ok, err := c.decoder.Next()
			if err != nil {
				s.logger.Warn("invalid frame, closing connection", zap.Int(logger.FieldConn, c.id), zap.Error(err))
				s.closeConn(c)
				return
			}
			if !ok {
				break
			}
			s.dispatch(ctx, c, m)
		}
	}

	if ch.err != nil {
		if !errors.Is(ch.err, io.EOF) {
			s.logger.Warn("read failed", zap.Int(logger.FieldConn, c.id), zap.Error(ch.err))
		}
		s.closeConn(c)
	}
}

func (s *Service) flushAll() {
	for _, c := range s.conns {
		if err := c.flush(writeSlice); err != nil {
			s.logger.Warn("write failed, closing connection", zap.Int(logger.FieldConn, c.id), zap.Error(err))
			s.closeConn(c)
		}
	}
}

func (s *Service) closeConn(c *conn) {
	c.nc.Close()
	delete(s.conns, c.id)
	s.logger.Debug("connection closed", zap.Int(logger.FieldConn, c.id))
}

func (s *Service) shutdown(done chan struct{}) {
	close(done)
	s.listener.Close()
	deadline := time.Now().Add(s.cfg.FlushInterval)
	for _, c := range s.conns {
		c.flush(time.Until(deadline))
		s.closeConn(c)
	}
}
