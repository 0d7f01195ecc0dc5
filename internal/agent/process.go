// Package agent manages the external agent process.
//
// The agent is a subprocess that speaks JSON lines: the host writes inputs
// to its stdin and reads output units from its stdout. The host never
// inspects the agent's reasoning; everything it needs arrives as typed
// units (narration text, tool invocations, turn boundaries, errors).
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/linguabridge/linguabridge/internal/logging"
	"github.com/linguabridge/linguabridge/pkg/types"
)

const (
	// SpawnMaxRetries is the maximum number of process start attempts.
	SpawnMaxRetries = 3
	// SpawnInitialInterval is the initial backoff interval between attempts.
	SpawnInitialInterval = 250 * time.Millisecond
	// closeGrace is how long Close waits for the process to exit after
	// stdin is closed before killing it.
	closeGrace = 3 * time.Second
	// maxUnitBytes bounds a single stdout line.
	maxUnitBytes = 4 * 1024 * 1024
)

var ErrClosed = errors.New("agent process closed")

// UnitType classifies one unit of agent output.
type UnitType string

const (
	UnitText    UnitType = "text"
	UnitTool    UnitType = "tool"
	UnitEndTurn UnitType = "end_turn"
	UnitError   UnitType = "error"
)

// Unit is one decoded line of agent output.
type Unit struct {
	Type    UnitType        `json:"type"`
	Text    string          `json:"text,omitempty"`
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Input is one line written to the agent's stdin.
type Input struct {
	Type      string            `json:"type"`
	Text      string            `json:"text,omitempty"`
	ID        string            `json:"id,omitempty"`
	Result    json.RawMessage   `json:"result,omitempty"`
	History   []*types.Message  `json:"history,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// Context is the initial payload sent to a freshly spawned agent: the
// replayed transcript plus the topic's content artifacts.
type Context struct {
	Topic     string
	History   []*types.Message
	Artifacts map[string]string
}

// Handle is the live binding to one agent process: an input sink, an
// output unit source, and a close operation. At most one Handle exists
// process-wide; the session manager owns it exclusively.
type Handle struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	units chan Unit
	done  chan struct{}

	mu     sync.Mutex
	enc    *json.Encoder
	closed bool
	reaped bool
}

// Spawn starts the agent process and sends it the initial context. Start
// failures are retried with exponential backoff and jitter.
func Spawn(ctx context.Context, argv []string, initial Context) (*Handle, error) {
	if len(argv) == 0 {
		return nil, errors.New("agent argv is empty")
	}

	var h *Handle
	op := func() error {
		var err error
		h, err = start(ctx, argv)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = SpawnInitialInterval
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, SpawnMaxRetries), ctx)); err != nil {
		return nil, fmt.Errorf("spawn agent: %w", err)
	}

	if err := h.Send(Input{
		Type:      "context",
		History:   initial.History,
		Artifacts: initial.Artifacts,
	}); err != nil {
		h.Close()
		return nil, fmt.Errorf("send initial context: %w", err)
	}

	return h, nil
}

// start launches the process and wires the stdout reader.
func start(ctx context.Context, argv []string) (*Handle, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &Handle{
		cmd:   cmd,
		stdin: stdin,
		enc:   json.NewEncoder(stdin),
		units: make(chan Unit, 16),
		done:  make(chan struct{}),
	}
	go h.readLoop(stdout)

	return h, nil
}

// readLoop decodes stdout lines into units until EOF, then closes the unit
// channel. A malformed line is logged and skipped rather than tearing the
// stream down.
func (h *Handle) readLoop(stdout io.Reader) {
	defer close(h.units)
	log := logging.Component("agent")

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxUnitBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var unit Unit
		if err := json.Unmarshal(line, &unit); err != nil {
			log.Warn().Err(err).Str("line", string(line)).Msg("dropping malformed agent output")
			continue
		}
		// Close may run while the consumer is gone; without the done case
		// a full channel would strand this goroutine and its pipe.
		select {
		case h.units <- unit:
		case <-h.done:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Msg("agent stdout read error")
	}
}

// Units returns the output unit stream. The channel is closed when the
// agent's stdout reaches EOF; it is never reopened.
func (h *Handle) Units() <-chan Unit {
	return h.units
}

// Send writes one input line to the agent's stdin.
func (h *Handle) Send(input Input) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if err := h.enc.Encode(input); err != nil {
		return fmt.Errorf("write agent input: %w", err)
	}
	return nil
}

// CloseInput closes the agent's stdin so it sees EOF once it finishes its
// current work, without touching the process. Further Sends fail with
// ErrClosed; the output stream keeps flowing until the agent exits on its
// own. Used by the graceful end handshake, which must let the agent write
// its final notes before the process goes away.
func (h *Handle) CloseInput() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	_ = h.stdin.Close()
}

// Close closes stdin so the agent sees EOF, waits briefly for a clean
// exit, and kills the process if it lingers. Safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.reaped {
		h.mu.Unlock()
		return nil
	}
	h.reaped = true
	h.closed = true
	h.mu.Unlock()

	close(h.done)
	_ = h.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(closeGrace):
		_ = h.cmd.Process.Kill()
		return <-done
	}
}
