// Package tracer supervises the bpftrace subprocess: spawning it with the
// trace stack's currently synthesized program, reading its stdout, and
// respawning it whenever the stack reports the program has changed.
package tracer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rubrikinc/wachy-go/internal/events"
	"github.com/rubrikinc/wachy-go/internal/trace"
)

// BinaryPath is the bpftrace executable, looked up on PATH.
const BinaryPath = "bpftrace"

// spawn tracks one generation of the supervised subprocess. id tags this
// generation's log lines (its spawn and its drain), which are otherwise
// hard to tell apart from the previous generation's once respawns are
// frequent.
type spawn struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	counter uint64
	id      uuid.UUID
	killing atomic.Bool
}

// Supervisor owns the lifecycle of the bpftrace subprocess backing a single
// trace.Stack. It never reads from the shared event bus — it only ever
// sends to it, so the bus's single-consumer invariant is preserved; callers
// are expected to invoke Respawn themselves upon observing
// events.TraceCommandModified.
type Supervisor struct {
	stack *trace.Stack
	bus   *events.Bus

	mu      sync.Mutex
	current *spawn
}

// NewSupervisor creates a Supervisor for the given stack, sending parsed
// samples and fatal errors to bus.
func NewSupervisor(stack *trace.Stack, bus *events.Bus) *Supervisor {
	return &Supervisor{stack: stack, bus: bus}
}

// Respawn kills any currently running tracer subprocess and starts a new
// one using the stack's current synthesized program. Safe to call
// concurrently with itself and with Stop.
func (sv *Supervisor) Respawn(ctx context.Context) {
	program, counter := sv.stack.GetBpftraceExpr()

	sv.mu.Lock()
	sv.killLocked()

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, BinaryPath, "-e", program)
	// Cancelling runCtx (killLocked) sends SIGTERM rather than the
	// default SIGKILL, so bpftrace can detach its probes cleanly.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		sv.mu.Unlock()
		sv.bus.Send(events.FatalTraceError{Msg: fmt.Sprintf("piping bpftrace stdout: %v", err)})
		return
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	sp := &spawn{cmd: cmd, cancel: cancel, counter: counter, id: uuid.New()}
	sv.current = sp
	sv.mu.Unlock()

	if err := cmd.Start(); err != nil {
		cancel()
		sv.bus.Send(events.FatalTraceError{Msg: fmt.Sprintf("starting bpftrace: %v", err)})
		return
	}
	logrus.WithFields(logrus.Fields{"counter": counter, "spawn_id": sp.id}).Debug("tracer: spawned bpftrace")

	var g errgroup.Group
	g.Go(func() error {
		sv.readLoop(stdout, sp)
		return nil
	})
	g.Go(func() error {
		return sv.waitLoop(sp, &stderr)
	})
	go func() {
		if err := g.Wait(); err != nil {
			logrus.WithFields(logrus.Fields{"spawn_id": sp.id}).WithError(err).Debug("tracer: generation ended")
		} else {
			logrus.WithField("spawn_id", sp.id).Debug("tracer: generation drained")
		}
	}()
}

// killLocked terminates the current subprocess, if any, and marks it as
// intentionally killed so waitLoop doesn't report its exit as fatal.
// Callers must hold sv.mu.
func (sv *Supervisor) killLocked() {
	if sv.current == nil {
		return
	}
	sv.current.killing.Store(true)
	sv.current.cancel()
	sv.current = nil
}

// Stop kills any running subprocess and prevents further respawns from
// reporting stale errors. Call once, at shutdown.
func (sv *Supervisor) Stop() {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.killLocked()
}

func (sv *Supervisor) waitLoop(sp *spawn, stderr *bytes.Buffer) error {
	err := sp.cmd.Wait()
	if err != nil && !sp.killing.Load() {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		sv.bus.Send(events.FatalTraceError{Msg: fmt.Sprintf("bpftrace exited: %s", msg)})
		return err
	}
	return nil
}

// readLoop implements the tracer wire protocol: bytes before the first '{'
// are discarded (bpftrace's own startup banner and any attach-probe
// warnings), then bytes are accumulated — with raw newlines rewritten to
// the two-byte escape sequence, since a bare control character inside a
// JSON string (as appears in a histogram dump) is not itself valid JSON —
// until brace depth returns to zero, at which point the buffer holds one
// complete object.
func (sv *Supervisor) readLoop(r io.Reader, sp *spawn) {
	br := bufio.NewReader(r)
	var buf bytes.Buffer
	capturing := false
	depth := 0

	for {
		b, err := br.ReadByte()
		if err != nil {
			return
		}

		if !capturing {
			if b != '{' {
				continue
			}
			capturing = true
			depth = 0
		}

		if b == '\n' {
			buf.WriteString(`\n`)
		} else {
			buf.WriteByte(b)
		}

		switch b {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				data, counter := append([]byte(nil), buf.Bytes()...), sp.counter
				buf.Reset()
				capturing = false
				sv.handle(data, counter)
			}
		}
	}
}

func (sv *Supervisor) handle(raw []byte, counter uint64) {
	sample, err := parseSample(raw, counter)
	if err != nil {
		sv.bus.Send(events.FatalTraceError{Msg: fmt.Sprintf("unparseable sample %q: %v", raw, err)})
		return
	}
	sv.bus.TrySend(sample)
}

// DryCompile runs bpftrace's static-validation dry run against program,
// without attaching any probes, returning a descriptive error if the
// program is rejected. Bound as trace.Stack's dryCompile hook by cmd/wachy.
func DryCompile(ctx context.Context, program string) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, BinaryPath, "-d", "-e", program)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("bpftrace rejected program: %s", msg)
	}
	return nil
}
