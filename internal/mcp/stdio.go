package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// stopGrace bounds how long a tool server may keep running after its
// stdin closes before it gets killed.
const stopGrace = 5 * time.Second

// StdioConfig describes a tool server launched as a child process.
// The wire format is one JSON-RPC message per line on stdin/stdout.
type StdioConfig struct {
	// Command is the server binary or script to execute.
	Command string

	// Args are passed to the executable verbatim.
	Args []string

	// Env entries ("KEY=VALUE") are appended to the parent's
	// environment, typically to hand the server its API keys.
	Env []string

	// Logger receives transport diagnostics.
	Logger *slog.Logger
}

// StdioTransport runs an MCP server as a subprocess and talks to it
// over its pipes. One subprocess per transport; nothing else reads or
// writes those pipes, so requests are strictly serialized.
type StdioTransport struct {
	config StdioConfig
	logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
}

func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		config: cfg,
		logger: logger,
	}
}

// NeedsHandshake is always true for stdio: a freshly spawned server
// knows nothing until it sees initialize.
func (t *StdioTransport) NeedsHandshake() bool { return true }

// Start spawns the subprocess unless one is already running.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.start(ctx)
}

// start spawns the subprocess. Its lifetime is not tied to any request
// context: a timed-out call does not take the server down, only stop()
// or cleanup() do. Caller holds t.mu.
func (t *StdioTransport) start(_ context.Context) error {
	if t.cmd != nil && t.cmd.ProcessState == nil {
		// Already running.
		return nil
	}

	t.logger.Info("starting MCP subprocess",
		"command", t.config.Command,
		"args", t.config.Args,
	)

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = append(os.Environ(), t.config.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return connErr("create stdin pipe", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return connErr("create stdout pipe", err)
	}

	// Stderr carries the server's own logging, not protocol traffic.
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return connErr("create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		stderrPipe.Close()
		stdout.Close()
		stdin.Close()
		return connErr(fmt.Sprintf("start subprocess %s", t.config.Command), err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.reader = bufio.NewReaderSize(stdout, 1<<20) // scoreboard payloads can run large

	go t.drainStderr(stderrPipe)

	t.logger.Info("MCP subprocess started", "pid", cmd.Process.Pid)
	return nil
}

// drainStderr forwards the server's stderr lines into our debug log.
func (t *StdioTransport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("MCP subprocess stderr", "line", scanner.Text())
	}
}

type readResult struct {
	line []byte
	err  error
}

// Send writes one request line and reads lines back until the one
// carrying the matching id appears. The mutex keeps calls sequential,
// which the single stdin/stdout pair requires anyway. Reads happen in
// a goroutine so a cancelled context can abandon a blocked read.
func (t *StdioTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.start(ctx); err != nil {
		return nil, err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		t.cleanup()
		return nil, connErr("write to subprocess stdin", err)
	}

	// Servers may interleave notifications or answers to requests we
	// already gave up on. Keep reading until the id lines up.
	for {
		ch := make(chan readResult, 1)
		go func() {
			line, readErr := t.reader.ReadBytes('\n')
			ch <- readResult{line: line, err: readErr}
		}()

		select {
		case <-ctx.Done():
			// Kill the subprocess so the reader goroutine unblocks,
			// then reset state.
			t.cleanup()
			return nil, connErr("request cancelled", ctx.Err())
		case res := <-ch:
			if res.err != nil {
				// EOF here means the server went away mid-call.
				t.cleanup()
				return nil, connErr("read from subprocess stdout", res.err)
			}

			var resp Response
			if err := json.Unmarshal(res.line, &resp); err != nil {
				t.logger.Debug("skipping non-JSON line from MCP subprocess",
					"line", string(res.line),
				)
				continue
			}

			// Only the response to this request reaches the caller;
			// anything with a different id is dropped.
			if resp.ID == req.ID {
				return &resp, nil
			}

			t.logger.Debug("skipping unmatched MCP message", "id", resp.ID)
		}
	}
}

// Notify writes a notification line. Nothing comes back for these.
func (t *StdioTransport) Notify(ctx context.Context, notif *Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.start(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		t.cleanup()
		return connErr("write notification to subprocess stdin", err)
	}

	return nil
}

// Close shuts the subprocess down. Safe to call before Start or more
// than once.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.stop()
}

// stop asks the server to exit by closing stdin, gives it stopGrace
// to comply, and kills it otherwise. Caller holds t.mu.
func (t *StdioTransport) stop() error {
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}

	t.logger.Info("stopping MCP subprocess", "pid", t.cmd.Process.Pid)

	if t.stdin != nil {
		t.stdin.Close()
	}

	done := make(chan error, 1)
	go func() { done <- t.cmd.Wait() }()

	select {
	case err := <-done:
		t.cmd = nil
		t.stdin = nil
		t.reader = nil
		return err
	case <-time.After(stopGrace):
		t.logger.Warn("MCP subprocess did not exit gracefully, killing",
			"pid", t.cmd.Process.Pid,
		)
		_ = t.cmd.Process.Kill()
		<-done
		t.cmd = nil
		t.stdin = nil
		t.reader = nil
		return nil
	}
}

// cleanup tears the subprocess down hard after a failure mid-call.
// Caller holds t.mu.
func (t *StdioTransport) cleanup() {
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
		_ = t.cmd.Wait()
	}
	t.cmd = nil
	t.stdin = nil
	t.reader = nil
}
