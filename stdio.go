package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// StdIO is a Transport that spawns an MCP server as a child process and exchanges
// newline-delimited JSON messages over its standard streams: requests are written
// to the child's stdin and inbound messages are read from its stdout by a
// background reader. The child's stderr is not part of the protocol stream and is
// surfaced through the logger instead.
//
// StdIO is asynchronous: Send always returns a nil response and inbound messages
// arrive through the OnMessage handler. Instances should be created using
// NewStdIO.
type StdIO struct {
	command   string
	args      []string
	dir       string
	env       []string
	termGrace time.Duration
	logger    *slog.Logger

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	handler    func(msg JSONRPCMessage)
	connected  bool
	readerDone chan struct{}
}

// StdIOOption represents the options for the StdIO transport.
type StdIOOption func(*StdIO)

// NewStdIO creates a StdIO transport that will run the given command with the given
// arguments when Connect is called. The process is not started until then.
func NewStdIO(command string, args []string, options ...StdIOOption) *StdIO {
	s := &StdIO{
		command:   command,
		args:      args,
		termGrace: 5 * time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// WithStdIODir sets the working directory for the child process.
func WithStdIODir(dir string) StdIOOption {
	return func(s *StdIO) {
		s.dir = dir
	}
}

// WithStdIOEnv sets the environment for the child process, in the form provided
// by os.Environ. When unset the child inherits the parent's environment.
func WithStdIOEnv(env []string) StdIOOption {
	return func(s *StdIO) {
		s.env = env
	}
}

// WithStdIOTermGrace sets how long Disconnect waits for the child process to exit
// after a termination request before force-killing it.
func WithStdIOTermGrace(grace time.Duration) StdIOOption {
	return func(s *StdIO) {
		s.termGrace = grace
	}
}

// WithStdIOLogger sets the logger for the transport.
func WithStdIOLogger(logger *slog.Logger) StdIOOption {
	return func(s *StdIO) {
		s.logger = logger
	}
}

// OnMessage registers the delivery callback invoked by the background reader for
// every message decoded from the child's stdout.
func (s *StdIO) OnMessage(handler func(msg JSONRPCMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Connect starts the child process with its standard input and output wired as
// pipes and launches the background reader.
func (s *StdIO) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	cmd := exec.Command(s.command, s.args...)
	cmd.Dir = s.dir
	cmd.Env = s.env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.command, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.connected = true
	s.readerDone = make(chan struct{})

	go s.readMessages(stdout, s.readerDone)
	go s.logStderr(stderr)

	s.logger.Info("connected to MCP server via stdio", slog.String("command", s.command))
	return nil
}

// Send encodes the message as a single newline-terminated line and writes it to the
// child's stdin. StdIO is asynchronous, so the returned response is always nil.
func (s *StdIO) Send(_ context.Context, msg JSONRPCMessage) (*JSONRPCMessage, error) {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	// Append newline to maintain message framing protocol
	msgBs = append(msgBs, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, ErrNotConnected
	}

	if _, err := s.stdin.Write(msgBs); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}

	return nil, nil
}

// Disconnect requests graceful termination of the child process, force-killing it
// if it does not exit within the configured grace period, then waits for the
// background reader to finish with a bounded wait. It is safe to call when
// already disconnected.
func (s *StdIO) Disconnect(ctx context.Context) error {
	s.mu.Lock()

	s.connected = false
	if s.cmd == nil {
		s.mu.Unlock()
		return nil
	}
	cmd := s.cmd
	stdin := s.stdin
	readerDone := s.readerDone
	s.cmd = nil
	s.stdin = nil
	s.mu.Unlock()

	// Closing stdin lets a well-behaved server exit on its own.
	if err := stdin.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		s.logger.Warn("failed to close stdin", slog.String("err", err.Error()))
	}

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Warn("failed to signal process", slog.String("err", err.Error()))
	}

	select {
	case <-waited:
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waited
	case <-time.After(s.termGrace):
		if err := cmd.Process.Kill(); err != nil {
			s.logger.Warn("failed to kill process", slog.String("err", err.Error()))
		}
		<-waited
	}

	if readerDone != nil {
		select {
		case <-readerDone:
		case <-time.After(time.Second):
		}
	}

	s.logger.Info("disconnected from MCP server via stdio")
	return nil
}

// Connected reports whether the child process is running and the pipes are open.
func (s *StdIO) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *StdIO) readMessages(stdout io.Reader, done chan struct{}) {
	defer close(done)

	// Use bufio.Reader instead of bufio.Scanner to avoid max token size errors.
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// Wait closes the pipe during Disconnect, so a closed-file error is a
			// normal shutdown signal.
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Error("failed to read from stdio", slog.String("err", err.Error()))
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var msg JSONRPCMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			// A malformed line must not take down the session; drop it and keep reading.
			s.logger.Error("invalid JSON received via stdio", slog.String("line", line), slog.String("err", err.Error()))
			continue
		}

		s.mu.Lock()
		handler := s.handler
		s.mu.Unlock()

		if handler != nil {
			handler(msg)
		}
	}
}

func (s *StdIO) logStderr(stderr io.Reader) {
	reader := bufio.NewReader(stderr)
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			s.logger.Debug("server stderr", slog.String("line", line))
		}
		if err != nil {
			return
		}
	}
}
