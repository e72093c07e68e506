// Package connector is the client side of the backend protocol. It spawns
// the backend, discovers its port from the startup output and serializes
// requests over the connection. All progress happens inside Poll so the
// embedding editor keeps control of its own event loop.
package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/rtext-lang/rtext/internal/logger"
	"github.com/rtext-lang/rtext/internal/wire"
)

var (
	// ErrBusy is returned while a request is awaiting its response
	ErrBusy = errors.New("connector busy")
	// ErrConnecting is returned while the backend is starting up
	ErrConnecting = errors.New("connector connecting")
	// ErrClosed is returned once the connection to the backend is gone
	ErrClosed = errors.New("connector closed")
)

// maxReadsPerPoll caps the reads of a single Poll so a chatty backend
// cannot keep the caller inside it
const maxReadsPerPoll = 16

var bannerPattern = regexp.MustCompile(`RText service, listening on port (\d+)`)

// State of the connector
type State int

const (
	StateOff State = iota
	StateWaitForFile
	StateWaitForPort
	StateReadFromSocket
	StateDone
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateWaitForFile:
		return "wait_for_file"
	case StateWaitForPort:
		return "wait_for_port"
	case StateReadFromSocket:
		return "read_from_socket"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Callback receives every message of an invocation, the terminal one last
type Callback func(m wire.Message)

// Config holds connector settings
type Config struct {
	// Command is the backend command line, split like a shell would
	Command string
	// Dir is the working directory of the backend
	Dir string
	// Env is appended to the current environment
	Env []string
	// TempDir holds the backend output file, os.TempDir() when empty
	TempDir string
	// ReadTimeout bounds each socket read inside Poll
	ReadTimeout time.Duration
	// DialTimeout bounds connecting to the announced port
	DialTimeout time.Duration
	// PollInterval is the sleep between polls of the synchronous mode
	PollInterval time.Duration
	// OnConnect is called once the connection is established
	OnConnect func(port int)
	Logger    *zap.Logger
}

type pendingInvocation struct {
	id       int
	callback Callback
}

// Connector supervises one backend process. It is not safe for concurrent
// use; the caller drives it from a single goroutine.
type Connector struct {
	cfg    Config
	logger *zap.Logger

	state   State
	cmd     *exec.Cmd
	exited  chan error
	gone    bool
	outPath string
	outFile *outputFile

	conn    net.Conn
	port    int
	decoder wire.Decoder
	readBuf []byte

	nextID  int
	pending *pendingInvocation
}

// New creates a connector; the backend is spawned on first use
func New(cfg Config) *Connector {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Millisecond
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Connector{
		cfg:     cfg,
		logger:  logger.Component(cfg.Logger, "connector"),
		readBuf: make([]byte, 64*1024),
	}
}

// State returns the current state
func (c *Connector) State() State {
	return c.state
}

// Port returns the backend port once connected
func (c *Connector) Port() int {
	return c.port
}

// Busy reports whether a request awaits its response
func (c *Connector) Busy() bool {
	return c.pending != nil
}

// Execute sends a request. ErrConnecting and ErrBusy are transient: the
// connector advances its state and the caller retries later.
func (c *Connector) Execute(command string, payload any, callback Callback) error {
	switch c.state {
	case StateDone:
		return ErrClosed
	case StateOff:
		if err := c.spawn(); err != nil {
			return err
		}
	}

	if c.state != StateReadFromSocket {
		c.Poll()
		if c.state == StateDone {
			return ErrClosed
		}
		if c.state != StateReadFromSocket {
			return ErrConnecting
		}
	}

	if c.pending != nil {
		c.Poll()
		return ErrBusy
	}

	c.nextID++
	m, err := wire.NewRequest(command, c.nextID, payload)
	if err != nil {
		return err
	}
	frame, err := wire.Encode(m)
	if err != nil {
		return err
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.DialTimeout)); err != nil {
		return fmt.Errorf("failed to send %s: %w", command, err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		c.logger.Warn("write failed", zap.String(logger.FieldCommand, command), zap.Error(err))
		c.shutdown()
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}

	c.pending = &pendingInvocation{id: m.InvocationID, callback: callback}
	c.logger.Debug("request sent",
		zap.String(logger.FieldCommand, command),
		zap.Int(logger.FieldInvocationID, m.InvocationID))
	return nil
}

// Poll advances the state machine without blocking for long and returns
// the resulting state
func (c *Connector) Poll() State {
	c.reap()

	if c.state == StateWaitForFile {
		if _, err := os.Stat(c.outPath); err == nil {
			c.setState(StateWaitForPort)
		} else if c.gone {
			c.shutdown()
		}
	}

	if c.state == StateWaitForPort {
		c.pollPort()
	}

	if c.state == StateReadFromSocket {
		c.readSocket()
	}

	return c.state
}

func (c *Connector) spawn() error {
	args, err := shellquote.Split(c.cfg.Command)
	if err != nil {
		return fmt.Errorf("invalid backend command: %w", err)
	}
	if len(args) == 0 {
		return errors.New("empty backend command")
	}

	c.outPath = filepath.Join(c.cfg.TempDir, "rtext-"+uuid.NewString()+".out")
	if err := os.Remove(c.outPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale output file: %w", err)
	}
	c.outFile = &outputFile{path: c.outPath}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = c.cfg.Dir
	cmd.Env = append(os.Environ(), c.cfg.Env...)
	cmd.Stdout = c.outFile
	cmd.Stderr = c.outFile
	cmd.WaitDelay = c.cfg.DialTimeout
	if err := cmd.Start(); err != nil {
		c.outFile.Close()
		os.Remove(c.outPath)
		c.setState(StateDone)
		return fmt.Errorf("failed to start backend: %w", err)
	}

	c.cmd = cmd
	c.exited = make(chan error, 1)
	go func() {
		c.exited <- cmd.Wait()
	}()

	c.logger.Info("backend started",
		zap.String("command", c.cfg.Command),
		zap.Int("pid", cmd.Process.Pid),
		zap.String(logger.FieldFile, c.outPath))
	c.setState(StateWaitForFile)
	return nil
}

// reap records process exit; the state reacts to it in Poll only
func (c *Connector) reap() {
	if c.exited == nil || c.gone {
		return
	}
	select {
	case err := <-c.exited:
		c.gone = true
		c.logger.Info("backend exited", zap.Error(err))
	default:
	}
}

func (c *Connector) pollPort() {
	out, err := os.ReadFile(c.outPath)
	if err != nil {
		c.logger.Warn("failed to read backend output", zap.Error(err))
		c.shutdown()
		return
	}

	match := bannerPattern.FindSubmatch(out)
	if match == nil {
		if c.gone {
			c.logger.Warn("backend exited before announcing its port", zap.ByteString("output", bytes.TrimSpace(out)))
			c.shutdown()
		}
		return
	}

	port, _ := strconv.Atoi(string(match[1]))
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), c.cfg.DialTimeout)
	if err != nil {
		c.logger.Warn("failed to connect", zap.Int(logger.FieldPort, port), zap.Error(err))
		c.shutdown()
		return
	}

	c.conn = conn
	c.port = port
	c.setState(StateReadFromSocket)
	c.logger.Info("connected", zap.Int(logger.FieldPort, port))
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect(port)
	}
}

func (c *Connector) readSocket() {
	closed := false
	for i := 0; i < maxReadsPerPoll; i++ {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			closed = true
			break
		}
		n, err := c.conn.Read(c.readBuf)
		if n > 0 {
			c.decoder.Write(c.readBuf[:n])
		}
		if err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) {
				closed = true
			}
			break
		}
		// a short read means the socket is drained for now
		if n < len(c.readBuf) {
			break
		}
	}

	for {
		m, ok, err := c.decoder.Next()
		if err != nil {
			c.logger.Warn("invalid frame from backend", zap.Error(err))
			closed = true
			break
		}
		if !ok {
			break
		}
		c.route(m)
	}

	if closed || c.gone {
		c.shutdown()
	}
}

func (c *Connector) route(m wire.Message) {
	p := c.pending
	if p == nil || m.InvocationID != p.id {
		c.logger.Warn("message for unknown invocation",
			zap.Int(logger.FieldInvocationID, m.InvocationID),
			zap.String("type", string(m.Type)))
		return
	}
	if m.IsTerminal() {
		c.pending = nil
	}
	if p.callback != nil {
		p.callback(m)
	}
}

// ExecuteSync sends a request and polls until its terminal message
// arrives. Progress percentages are passed to onProgress.
func (c *Connector) ExecuteSync(ctx context.Context, command string, payload any, onProgress func(percent int)) (wire.Message, error) {
	var result *wire.Message
	callback := func(m wire.Message) {
		switch {
		case m.Type == wire.TypeProgress:
			var p wire.Progress
			if err := m.Bind(&p); err == nil && onProgress != nil {
				onProgress(p.Percentage)
			}
		case m.IsTerminal():
			result = &m
		}
	}

	for {
		err := c.Execute(command, payload, callback)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrBusy) && !errors.Is(err, ErrConnecting) {
			return wire.Message{}, err
		}
		if err := c.sleep(ctx); err != nil {
			return wire.Message{}, err
		}
	}

	for result == nil {
		if c.Poll() == StateDone && result == nil {
			return wire.Message{}, ErrClosed
		}
		if result != nil {
			break
		}
		if err := c.sleep(ctx); err != nil {
			return wire.Message{}, err
		}
	}
	return *result, nil
}

// Stop asks the backend to exit and drains until the connection closes.
// The backend is killed if ctx ends first.
func (c *Connector) Stop(ctx context.Context) error {
	switch c.state {
	case StateOff:
		c.setState(StateDone)
		return nil
	case StateDone:
		return nil
	case StateReadFromSocket:
		for {
			err := c.Execute(wire.CommandStop, nil, nil)
			if err == nil {
				break
			}
			if !errors.Is(err, ErrBusy) {
				c.kill()
				return nil
			}
			if err := c.sleep(ctx); err != nil {
				c.kill()
				return err
			}
		}
		for c.Poll() != StateDone {
			if err := c.sleep(ctx); err != nil {
				c.kill()
				return err
			}
		}
		return nil
	default:
		c.kill()
		return nil
	}
}

func (c *Connector) sleep(ctx context.Context) error {
	t := time.NewTimer(c.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// kill ends the backend and waits briefly for it to be reaped
func (c *Connector) kill() {
	if c.cmd != nil && !c.gone {
		if err := c.cmd.Process.Kill(); err != nil {
			c.logger.Debug("kill failed", zap.Error(err))
		}
		select {
		case <-c.exited:
			c.gone = true
		case <-time.After(c.cfg.DialTimeout):
		}
	}
	c.shutdown()
}

// shutdown releases the connection and the output file. A backend that is
// still running is killed since nothing can talk to it anymore.
func (c *Connector) shutdown() {
	if c.cmd != nil && !c.gone {
		c.cmd.Process.Kill()
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.outFile != nil {
		c.outFile.Close()
		c.outFile = nil
	}
	if c.outPath != "" {
		if err := os.Remove(c.outPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("failed to remove output file", zap.String(logger.FieldFile, c.outPath), zap.Error(err))
		}
	}
	c.pending = nil
	c.setState(StateDone)
}

func (c *Connector) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("state change", zap.Stringer(logger.FieldState, s))
	c.state = s
}

// OutputPath returns the file collecting the backend output
func (c *Connector) OutputPath() string {
	return c.outPath
}
