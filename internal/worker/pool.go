// Package worker implements the process-pool supervisor: one worker process
// per CPU core, all accepting from the same listening socket, respawned
// immediately on exit.
package worker

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/codefionn/devsync/internal/consts"
	"github.com/codefionn/devsync/internal/logger"
)

const (
	// EnvWorker marks a spawned process as a pool worker
	EnvWorker = "DEVSYNC_WORKER"
	// EnvMetricsAddr carries the per-worker metrics address, if any
	EnvMetricsAddr = "DEVSYNC_METRICS_ADDR"

	// listenerFD is the descriptor workers inherit the shared socket on
	// (after stdin, stdout, stderr)
	listenerFD = 3
)

// IsWorker reports whether this process was spawned as a pool worker.
func IsWorker() bool {
	return os.Getenv(EnvWorker) == "1"
}

// InheritedListener recreates the shared listening socket a worker inherited
// from the supervisor.
func InheritedListener() (net.Listener, error) {
	f := os.NewFile(listenerFD, "listener")
	if f == nil {
		return nil, fmt.Errorf("no inherited listener on fd %d", listenerFD)
	}
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("failed to recreate inherited listener: %w", err)
	}
	return ln, nil
}

// MetricsAddr returns the metrics address assigned to this worker, if any.
func MetricsAddr() string {
	return os.Getenv(EnvMetricsAddr)
}

// Pool supervises the worker processes. It tracks only liveness; sessions do
// not survive a worker crash, clients reconnect and re-run the check/sync
// handshake.
type Pool struct {
	count        int
	args         []string
	listenerFile *os.File
	metricsBase  string

	mu       sync.Mutex
	current  map[int]*exec.Cmd
	stopping bool

	wg sync.WaitGroup
}

// NewPool creates a supervisor for count workers sharing the given bound
// listener. args are passed through to each worker invocation of this
// binary. metricsBase, when non-empty, is a host:port each worker derives
// its own metrics address from.
func NewPool(count int, listener *net.TCPListener, args []string, metricsBase string) (*Pool, error) {
	if count < 1 {
		return nil, fmt.Errorf("worker count must be at least 1, got %d", count)
	}

	file, err := listener.File()
	if err != nil {
		return nil, fmt.Errorf("failed to get listener descriptor: %w", err)
	}

	return &Pool{
		count:        count,
		args:         args,
		listenerFile: file,
		metricsBase:  metricsBase,
		current:      make(map[int]*exec.Cmd),
	}, nil
}

// Run spawns every worker and keeps each slot occupied until the context is
// cancelled: any worker that exits is immediately replaced.
func (p *Pool) Run(ctx context.Context) {
	logger.Info("spawning %d workers", p.count)

	for slot := 0; slot < p.count; slot++ {
		p.wg.Add(1)
		go p.superviseSlot(ctx, slot)
	}

	<-ctx.Done()
	p.Stop()
}

// Stop terminates all workers and waits for them to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.stopping = true
	procs := make([]*exec.Cmd, 0, len(p.current))
	for _, cmd := range p.current {
		procs = append(procs, cmd)
	}
	p.mu.Unlock()

	for _, cmd := range procs {
		if cmd.Process == nil {
			continue
		}
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			logger.Warn("failed to signal worker %d, killing: %v", cmd.Process.Pid, err)
			_ = cmd.Process.Kill()
		}
	}

	p.wg.Wait()
	p.listenerFile.Close()
	logger.Info("all workers stopped")
}

// superviseSlot keeps one worker slot occupied.
func (p *Pool) superviseSlot(ctx context.Context, slot int) {
	defer p.wg.Done()

	for {
		if p.isStopping() {
			return
		}

		cmd, err := p.spawn(slot)
		if err != nil {
			logger.Error("failed to spawn worker %d: %v", slot, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(consts.Timeout1Second):
			}
			continue
		}

		logger.Info("worker %d started (pid %d)", slot, cmd.Process.Pid)
		err = cmd.Wait()
		p.clearSlot(slot)

		if p.isStopping() {
			return
		}
		logger.Warn("worker %d (pid %d) exited: %v, respawning", slot, cmd.Process.Pid, err)
	}
}

// spawn starts one worker process with the shared listener on fd 3.
func (p *Pool) spawn(slot int) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve own executable: %w", err)
	}

	cmd := exec.Command(exe, p.args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{p.listenerFile}
	cmd.Env = append(os.Environ(), EnvWorker+"=1")
	if addr := p.metricsAddrForSlot(slot); addr != "" {
		cmd.Env = append(cmd.Env, EnvMetricsAddr+"="+addr)
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	if !p.register(slot, cmd) {
		// Stop has already collected its process list; this straggler must
		// be signaled here or Stop would wait on it until it exits on its own
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			_ = cmd.Process.Kill()
		}
	}
	return cmd, nil
}

// register records a spawned worker in its slot. It reports false when the
// pool is already stopping, in which case the worker is not recorded and the
// caller is responsible for terminating it.
func (p *Pool) register(slot int, cmd *exec.Cmd) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopping {
		return false
	}
	p.current[slot] = cmd
	return true
}

// metricsAddrForSlot derives a distinct metrics port per worker so the pool
// never has two processes binding the same endpoint.
func (p *Pool) metricsAddrForSlot(slot int) string {
	if p.metricsBase == "" {
		return ""
	}
	host, portStr, err := net.SplitHostPort(p.metricsBase)
	if err != nil {
		logger.Warn("invalid metrics address %q: %v", p.metricsBase, err)
		return ""
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		logger.Warn("invalid metrics port %q: %v", portStr, err)
		return ""
	}
	return net.JoinHostPort(host, strconv.Itoa(port+slot))
}

func (p *Pool) clearSlot(slot int) {
	p.mu.Lock()
	delete(p.current, slot)
	p.mu.Unlock()
}

func (p *Pool) isStopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}
