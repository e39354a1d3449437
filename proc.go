package readingproc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/shlex"
	"github.com/sourcegraph/conc"

	"github.com/Paintersrp/readingproc/internal/metrics"
)

// DefaultReadChunk is the default size in bytes of a single pipe read.
// Smaller values bound per-chunk memory; larger values keep up with very
// chatty children.
const DefaultReadChunk = 4096

// Option configures a Proc at construction time.
type Option func(*Proc)

// Shell controls whether the command string is interpreted by an
// intermediate shell. Enabled by default.
func Shell(enabled bool) Option {
	return func(p *Proc) { p.shell = enabled }
}

// ReadChunk sets the size in bytes of a single pipe read.
func ReadChunk(n int) Option {
	return func(p *Proc) {
		if n > 0 {
			p.readChunk = n
		}
	}
}

// StdinTerminal allocates a pseudo-terminal for the child's standard input,
// for programs that refuse to run without an interactive terminal.
func StdinTerminal(enabled bool) Option {
	return func(p *Proc) { p.stdinTerminal = enabled }
}

// WithLogger sets the structured logger used for lifecycle and relay
// diagnostics. Output is discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Proc) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithSetTimeouts overrides, for this handle only, the chunk and total
// timeouts a ReadingSet iteration applies to it. A zero duration inherits
// the iteration's own defaults.
func WithSetTimeouts(chunkTimeout, totalTimeout time.Duration) Option {
	return func(p *Proc) {
		p.setChunkTimeout = chunkTimeout
		p.setTotalTimeout = totalTimeout
	}
}

// Proc is a handle on one child process. It owns the child's pipes, two
// background stream readers and the relay channel they feed. The zero value
// is not usable; construct with New.
//
// A Proc moves through three states: constructed, started and exited. No
// read or write operation is valid before Start. The relay channel has a
// single consumer at a time: either the handle's own iterator or the
// ReadingSet the handle is enrolled in, never both concurrently.
type Proc struct {
	cmd           string
	shell         bool
	readChunk     int
	stdinTerminal bool
	logger        *slog.Logger

	setChunkTimeout time.Duration
	setTotalTimeout time.Duration

	mu       sync.Mutex
	execCmd  *exec.Cmd
	pid      int
	started  bool
	stdin    io.WriteCloser
	ptmx     *os.File
	relay    chan relayEvent
	waitDone chan struct{}
	exitErr  error
	exitCode int

	exited atomic.Bool
}

// New constructs a handle for the given command. The command is run through
// an intermediate shell unless Shell(false) is set, in which case it is
// split into an argument vector first.
func New(cmd string, opts ...Option) *Proc {
	p := &Proc{
		cmd:       cmd,
		shell:     true,
		readChunk: DefaultReadChunk,
		logger:    slog.New(slog.NewJSONHandler(io.Discard, nil)),
		exitCode:  -1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start spawns the process, opens its pipes and launches the two stream
// readers. It fails with ErrAlreadyStarted if called twice.
func (p *Proc) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("start %q: %w", p.cmd, ErrAlreadyStarted)
	}

	argv, err := p.argv()
	if err != nil {
		return fmt.Errorf("command %q: %w", p.cmd, err)
	}
	cmd := exec.Command(argv[0], argv[1:]...)

	// The pipes are created here rather than via StdoutPipe so that reaping
	// the child never closes a descriptor out from under a blocked reader:
	// the read ends belong to the stream readers alone.
	outR, outW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	parentEnds := []*os.File{outW, errW}
	childEnds := []*os.File{outR, errR}

	if p.stdinTerminal {
		ptmx, tty, err := openTerminal()
		if err != nil {
			closeAll(parentEnds)
			closeAll(childEnds)
			return fmt.Errorf("allocate terminal: %w", err)
		}
		cmd.Stdin = tty
		parentEnds = append(parentEnds, tty)
		p.ptmx = ptmx
		p.stdin = ptmx
	} else {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			closeAll(parentEnds)
			closeAll(childEnds)
			return fmt.Errorf("stdin pipe: %w", err)
		}
		p.stdin = stdin
	}

	configureCmdSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		closeAll(parentEnds)
		closeAll(childEnds)
		if p.ptmx != nil {
			p.ptmx.Close()
			p.ptmx = nil
		}
		p.stdin = nil
		return fmt.Errorf("start %q: %w", p.cmd, err)
	}
	// The child holds its own copies now.
	closeAll(parentEnds)

	p.execCmd = cmd
	p.pid = cmd.Process.Pid
	p.started = true
	p.relay = make(chan relayEvent, relayBuffer)
	p.waitDone = make(chan struct{})

	metrics.IncProcessStarts()
	p.logger.Debug("process started", "cmd", p.cmd, "pid", p.pid, "shell", p.shell, "terminal", p.stdinTerminal)

	pumps := conc.NewWaitGroup()
	pumps.Go(func() { p.pump(outR, StreamStdout) })
	pumps.Go(func() { p.pump(errR, StreamStderr) })

	go p.reap(cmd)

	relay := p.relay
	waitDone := p.waitDone
	go func() {
		pumps.Wait()
		<-waitDone
		close(relay)
	}()

	return nil
}

// reap records the exit status as soon as the child is collected. Liveness
// queries derive from it, so Alive flips independently of relay draining.
func (p *Proc) reap(cmd *exec.Cmd) {
	err := cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	if cmd.ProcessState != nil {
		p.exitCode = cmd.ProcessState.ExitCode()
	}
	code := p.exitCode
	ptmx := p.ptmx
	p.mu.Unlock()

	p.exited.Store(true)
	close(p.waitDone)

	if ptmx != nil {
		ptmx.Close()
	}
	p.logger.Debug("process reaped", "pid", p.pid, "exit_code", code)
}

func (p *Proc) argv() ([]string, error) {
	if p.shell {
		return shellCommand(p.cmd), nil
	}
	args, err := shlex.Split(p.cmd)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}
	return args, nil
}

// Alive reports whether the process has been spawned and not yet reaped.
// It never blocks.
func (p *Proc) Alive() bool {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	return started && !p.exited.Load()
}

// Pid returns the identifier of the spawned process. Under shell mode this
// identifies the shell, not necessarily the command it runs; construct the
// handle with Shell(false) to observe the command's own pid. Terminate and
// Kill signal the whole process group, so they reach the command either way.
func (p *Proc) Pid() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return 0, fmt.Errorf("pid: %w", ErrNotStarted)
	}
	return p.pid, nil
}

// SendStdin writes data to the child's standard input. A write failure is
// reported to the caller but leaves the handle usable.
func (p *Proc) SendStdin(data []byte) error {
	p.mu.Lock()
	started, stdin := p.started, p.stdin
	pid := p.pid
	p.mu.Unlock()
	if !started {
		return fmt.Errorf("send stdin: %w", ErrNotStarted)
	}
	if _, err := stdin.Write(data); err != nil {
		return fmt.Errorf("send stdin to pid %d: %w", pid, err)
	}
	return nil
}

// CloseStdin closes the child's standard input, signalling end-of-input to
// programs that read until EOF.
func (p *Proc) CloseStdin() error {
	p.mu.Lock()
	started, stdin := p.started, p.stdin
	p.mu.Unlock()
	if !started {
		return fmt.Errorf("close stdin: %w", ErrNotStarted)
	}
	if err := stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close stdin: %w", err)
	}
	return nil
}

// Terminate requests a graceful shutdown (SIGTERM to the process group).
// It does not block waiting for the exit and is a no-op on an exited
// process.
func (p *Proc) Terminate() error {
	return p.signal(false)
}

// Kill requests an immediate shutdown (SIGKILL to the process group) under
// the same non-blocking, idempotent contract as Terminate.
func (p *Proc) Kill() error {
	return p.signal(true)
}

func (p *Proc) signal(force bool) error {
	p.mu.Lock()
	started, pid := p.started, p.pid
	p.mu.Unlock()
	if !started {
		return fmt.Errorf("signal: %w", ErrNotStarted)
	}
	if p.exited.Load() {
		return nil
	}
	name := "terminate"
	if force {
		name = "kill"
	}
	if err := signalGroup(pid, force); err != nil {
		return fmt.Errorf("%s pid %d: %w", name, pid, err)
	}
	metrics.IncSignals(name)
	p.logger.Debug("signal sent", "pid", pid, "signal", name)
	return nil
}

// Wait blocks until the process has been reaped and returns the error from
// the underlying wait, if any. It does not drain the relay channel.
func (p *Proc) Wait() error {
	p.mu.Lock()
	started, waitDone := p.started, p.waitDone
	p.mu.Unlock()
	if !started {
		return fmt.Errorf("wait: %w", ErrNotStarted)
	}
	<-waitDone
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// ExitCode returns the exit status once the process has been reaped, or -1
// before start and while it is still running.
func (p *Proc) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.exited.Load() {
		return -1
	}
	return p.exitCode
}

// Read drains whatever output is currently queued without blocking,
// merging it into a single Chunk. A zero Chunk means nothing was pending.
// Once the process has exited and the relay is fully drained it fails with
// ErrProcEnded.
func (p *Proc) Read() (Chunk, error) {
	p.mu.Lock()
	started, relay := p.started, p.relay
	pid := p.pid
	p.mu.Unlock()
	if !started {
		return Chunk{}, fmt.Errorf("read: %w", ErrNotStarted)
	}

	var out Chunk
	for {
		select {
		case ev, ok := <-relay:
			switch {
			case !ok:
				if out.Empty() {
					return Chunk{}, fmt.Errorf("read pid %d: %w", pid, ErrProcEnded)
				}
				return out, nil
			case ev.err != nil:
				return out, &StreamError{Stream: ev.stream, Err: ev.err}
			case ev.eof:
			default:
				out.Stdout = append(out.Stdout, ev.chunk.Stdout...)
				out.Stderr = append(out.Stderr, ev.chunk.Stderr...)
			}
		default:
			return out, nil
		}
	}
}

// startedRelay exposes the relay channel to set iteration. The second
// return is false before Start.
func (p *Proc) startedRelay() (chan relayEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.relay, p.started
}

func closeAll(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}
