package transcode

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultGracePeriod is how long Stop waits after SIGTERM before killing.
	DefaultGracePeriod = 10 * time.Second

	outputTailSize = 8 << 10
	pipeWaitDelay  = 2 * time.Second
)

// ExitResult classifies how a supervised process ended.
type ExitResult string

const (
	ExitSuccess ExitResult = "success"
	ExitFailure ExitResult = "failure"
	ExitStopped ExitResult = "stopped"
)

// Process is one supervised transcoder child process.
type Process struct {
	Name      string
	Args      []string
	PID       int
	StartedAt time.Time

	cmd      *exec.Cmd
	output   *tailBuffer
	done     chan struct{}
	exitErr  error
	stopping atomic.Bool
}

// Done is closed once the process has exited and its exit was recorded.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns the exit error. It is only meaningful after Done is closed.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

// Running reports whether the process has not exited yet.
func (p *Process) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Output returns the last bytes the process wrote to stdout and stderr.
func (p *Process) Output() string { return p.output.String() }

func (p *Process) result() ExitResult {
	switch {
	case p.stopping.Load():
		return ExitStopped
	case p.exitErr != nil:
		return ExitFailure
	default:
		return ExitSuccess
	}
}

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	// Binary is the transcoder executable, "ffmpeg" when empty.
	Binary  string
	WorkDir string
	// GracePeriod between SIGTERM and SIGKILL on Stop. Zero waits for the
	// process to exit on its own, however long that takes.
	GracePeriod time.Duration
	Logger      *slog.Logger
	// OnExit is called from the monitoring goroutine after a process exits.
	OnExit func(name string, result ExitResult, err error)
}

// Supervisor starts transcoder processes, one per variant name, and keeps a
// guarded table of them until they are stopped.
type Supervisor struct {
	binary  string
	workDir string
	grace   time.Duration
	log     *slog.Logger
	onExit  func(string, ExitResult, error)

	mu    sync.Mutex
	procs map[string]*Process
	// stopping holds processes taken out of procs whose exit is pending, so a
	// concurrent Stop for the same name waits for the same exit.
	stopping map[string]*Process
	closed   bool
}

func NewSupervisor(opts SupervisorOptions) *Supervisor {
	binary := opts.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Supervisor{
		binary:  binary,
		workDir: opts.WorkDir,
		grace:   opts.GracePeriod,
		log:     log,
		onExit:  opts.OnExit,
		procs:    make(map[string]*Process),
		stopping: make(map[string]*Process),
	}
}

// Start launches the transcoder with args under name and monitors it in the
// background. A process already tracked under the same name is stopped first.
// After Close, Start returns ErrEngineClosed.
func (s *Supervisor) Start(args []string, name string) (*Process, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrEngineClosed
	}
	if err := s.Stop(name); err != nil {
		return nil, err
	}

	out := newTailBuffer(outputTailSize)
	cmd := exec.Command(s.binary, args...)
	cmd.Dir = s.workDir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = pipeWaitDelay

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Variant: name, Err: err}
	}

	p := &Process{
		Name:      name,
		Args:      append([]string(nil), args...),
		PID:       cmd.Process.Pid,
		StartedAt: time.Now().UTC(),
		cmd:       cmd,
		output:    out,
		done:      make(chan struct{}),
	}
	go s.monitor(p)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		// Close ran while the process was spawning; it must not outlive it.
		s.terminate(p)
		return nil, ErrEngineClosed
	}
	raced := s.procs[name]
	s.procs[name] = p
	s.mu.Unlock()

	s.log.Info("transcoder started",
		slog.String("variant", name),
		slog.Int("pid", p.PID),
		slog.Any("args", args))

	// Another Start for the same name won the race between our Stop and insert.
	if raced != nil {
		s.terminate(raced)
	}
	return p, nil
}

func (s *Supervisor) monitor(p *Process) {
	err := p.cmd.Wait()
	p.exitErr = err

	switch p.result() {
	case ExitStopped:
		s.log.Info("transcoder stopped", slog.String("variant", p.Name), slog.Int("pid", p.PID))
	case ExitFailure:
		s.log.Error("transcoder exited with error",
			slog.String("variant", p.Name),
			slog.Int("pid", p.PID),
			slog.String("error", err.Error()),
			slog.String("output", p.output.String()))
	default:
		s.log.Info("transcoder completed", slog.String("variant", p.Name), slog.Int("pid", p.PID))
	}

	if s.onExit != nil {
		s.onExit(p.Name, p.result(), err)
	}
	close(p.done)
}

// Stop terminates the process tracked under name and waits for it to exit.
// A concurrent Stop of the same name waits for the same exit. Unknown names
// are a no-op.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	p, ok := s.procs[name]
	if ok {
		delete(s.procs, name)
		s.stopping[name] = p
	} else {
		p, ok = s.stopping[name]
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	s.terminate(p)
	s.finishStop(name, p)
	return nil
}

// StopAll terminates every tracked process concurrently and clears the table.
func (s *Supervisor) StopAll() error {
	s.mu.Lock()
	procs := s.procs
	s.procs = make(map[string]*Process)
	for name, p := range procs {
		s.stopping[name] = p
	}
	s.mu.Unlock()

	var g errgroup.Group
	for name, p := range procs {
		name, p := name, p
		g.Go(func() error {
			s.terminate(p)
			s.finishStop(name, p)
			return nil
		})
	}
	return g.Wait()
}

// Close stops every process and makes later Start calls fail with
// ErrEngineClosed.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.StopAll()
}

func (s *Supervisor) finishStop(name string, p *Process) {
	s.mu.Lock()
	if s.stopping[name] == p {
		delete(s.stopping, name)
	}
	s.mu.Unlock()
}

// Lookup returns the process tracked under name, including exited ones that
// have not been stopped yet.
func (s *Supervisor) Lookup(name string) (*Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[name]
	return p, ok
}

// Names lists tracked variant names in sorted order.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.procs))
	for name := range s.procs {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)
	return names
}

// terminate sends SIGTERM, then SIGKILL once the grace period runs out.
func (s *Supervisor) terminate(p *Process) {
	if !p.Running() {
		return
	}
	p.stopping.Store(true)
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Warn("sigterm failed",
			slog.String("variant", p.Name),
			slog.Int("pid", p.PID),
			slog.String("error", err.Error()))
	}

	if s.grace <= 0 {
		<-p.done
		return
	}

	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return
	case <-timer.C:
	}

	s.log.Warn("transcoder ignored sigterm, killing",
		slog.String("variant", p.Name),
		slog.Int("pid", p.PID),
		slog.Duration("grace_period", s.grace))
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Error("kill failed", slog.String("variant", p.Name), slog.String("error", err.Error()))
	}
	<-p.done
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{max: size}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
