package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/eventman/internal/metrics"
)

// DefaultTimeout is the wall-clock limit for a single trigger script.
const DefaultTimeout = 60 * time.Second

// waitDelay bounds how long a killed script may keep its output pipes open
// through descendants that escaped the process group.
const waitDelay = 2 * time.Second

// Config holds the trigger runner settings.
type Config struct {
	// Dir is the trigger root; scripts for action A live in Dir/A.
	Dir        string
	Timeout    time.Duration
	Workers    int
	QueueDepth int
}

// Invocation is one firing of an action.
type Invocation struct {
	Action  string
	Payload any
	Env     map[string]string
}

// Result is the outcome of one trigger script.
type Result struct {
	Action   string
	Script   string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
	// Err is set when the script failed to start, timed out or exited
	// non-zero. It is never propagated to the caller of Fire.
	Err error
}

// Status labels the result for metrics.
func (r *Result) Status() string {
	switch {
	case r.TimedOut:
		return "timeout"
	case r.Err != nil:
		return "error"
	}
	return "ok"
}

type settings struct {
	dir     string
	timeout time.Duration
}

type scriptJob struct {
	inv     *Invocation
	path    string
	timeout time.Duration
}

// Runner runs trigger scripts in the background. Fire never blocks and
// trigger outcomes never reach its caller.
type Runner struct {
	ctx      context.Context
	settings atomic.Pointer[settings]
	dispatch *workerPool[*Invocation, int]
	scripts  *workerPool[*scriptJob, *Result]
	logger   *slog.Logger

	mu       sync.RWMutex
	onResult []func(*Result)
}

// New creates a Runner and starts its worker pools. Workers stop when ctx is
// cancelled; in-flight scripts are then killed.
func New(ctx context.Context, conf Config, logger *slog.Logger) *Runner {
	if conf.Timeout <= 0 {
		conf.Timeout = DefaultTimeout
	}
	if conf.Workers <= 0 {
		conf.Workers = 8
	}
	if conf.QueueDepth <= 0 {
		conf.QueueDepth = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{ctx: ctx, logger: logger.With("component", "trigger")}
	r.settings.Store(&settings{dir: conf.Dir, timeout: conf.Timeout})

	// Start the script pool first so dispatchers can submit to it.
	r.scripts = newWorkerPool[*scriptJob, *Result](
		ctx,
		conf.Workers,
		conf.QueueDepth,
		func(ctx context.Context, j *scriptJob) (*Result, error) {
			res := r.execute(ctx, j)
			r.report(res)
			return res, res.Err
		},
	)
	r.dispatch = newWorkerPool[*Invocation, int](
		ctx,
		1,
		conf.QueueDepth,
		func(_ context.Context, inv *Invocation) (int, error) {
			return r.dispatchScripts(inv)
		},
	)
	return r
}

// Reconfigure swaps the trigger root and timeout for subsequent firings.
func (r *Runner) Reconfigure(dir string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r.settings.Store(&settings{dir: dir, timeout: timeout})
}

// Dir returns the current trigger root.
func (r *Runner) Dir() string { return r.settings.Load().dir }

// OnResult registers a callback invoked after every script finishes.
func (r *Runner) OnResult(fn func(*Result)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onResult = append(r.onResult, fn)
}

// Fire queues every executable of action for execution and returns
// immediately. It reports whether the invocation was accepted.
func (r *Runner) Fire(action string, payload any, env map[string]string) bool {
	if action == "" || filepath.Base(action) != action || strings.HasPrefix(action, ".") {
		r.logger.Warn("invalid trigger action", "action", action)
		return false
	}
	if r.ctx.Err() != nil {
		r.logger.Warn("trigger runner stopped, dropping action", "action", action)
		return false
	}
	inv := &Invocation{Action: action, Payload: payload, Env: env}
	if !r.dispatch.Submit(inv) {
		metrics.TriggersDropped.WithLabelValues(action).Inc()
		r.logger.Warn("trigger queue full, dropping action", "action", action)
		return false
	}
	metrics.TriggersFired.WithLabelValues(action).Inc()
	return true
}

// QueueUtilization returns script queue used / capacity (0–1).
func (r *Runner) QueueUtilization() float64 {
	if r.scripts.QueueCap() == 0 {
		return 0
	}
	return float64(r.scripts.QueueLen()) / float64(r.scripts.QueueCap())
}

// Shutdown stops accepting invocations and waits for queued scripts.
func (r *Runner) Shutdown() {
	r.dispatch.Drain()
	r.scripts.Drain()
}

// Scripts lists the executables registered for action, sorted by name.
// A missing action directory yields no scripts.
func (r *Runner) Scripts(action string) ([]string, error) {
	dir := filepath.Join(r.settings.Load().dir, action)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trigger dir %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
			continue
		}
		out = append(out, path)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Runner) dispatchScripts(inv *Invocation) (int, error) {
	paths, err := r.Scripts(inv.Action)
	if err != nil {
		r.logger.Warn("trigger discovery failed", "action", inv.Action, "err", err)
		return 0, err
	}
	timeout := r.settings.Load().timeout
	queued := 0
	for _, p := range paths {
		if !r.scripts.Submit(&scriptJob{inv: inv, path: p, timeout: timeout}) {
			metrics.TriggersDropped.WithLabelValues(inv.Action).Inc()
			r.logger.Warn("trigger queue full, dropping script", "action", inv.Action, "script", p)
			continue
		}
		queued++
	}
	metrics.TriggerQueueUtilization.Set(r.QueueUtilization())
	r.logger.Debug("trigger dispatched", "action", inv.Action, "scripts", queued)
	return queued, nil
}

func (r *Runner) execute(ctx context.Context, j *scriptJob) *Result {
	res := &Result{Action: j.inv.Action, Script: j.path}
	start := time.Now()

	stdin, err := json.Marshal(j.inv.Payload)
	if err != nil {
		r.logger.Warn("trigger payload not serializable", "action", j.inv.Action, "err", err)
		stdin = []byte("{}")
	}

	runCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, j.path)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), envList(j.inv.Env)...)
	cmd.WaitDelay = waitDelay
	configureKill(cmd)

	err = cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	classify(res, err, runCtx.Err(), j.timeout)
	return res
}

// classify fills the outcome fields of res from the error returned by
// cmd.Run and the state of its context. A script that exits on its own is
// never reported as timed out, even when the deadline passed meanwhile.
func classify(res *Result, runErr, ctxErr error, timeout time.Duration) {
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		res.ExitCode = 0
	case errors.Is(ctxErr, context.DeadlineExceeded):
		res.TimedOut = true
		res.ExitCode = -1
		res.Err = fmt.Errorf("timed out after %s", timeout)
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		res.Err = fmt.Errorf("exit status %d", res.ExitCode)
	default:
		res.ExitCode = -1
		res.Err = runErr
	}
}

func (r *Runner) report(res *Result) {
	metrics.TriggerRuns.WithLabelValues(res.Action, res.Status()).Inc()
	metrics.TriggerDuration.Observe(float64(res.Duration.Milliseconds()))

	attrs := []any{
		"action", res.Action,
		"script", res.Script,
		"exit_code", res.ExitCode,
		"duration", res.Duration,
	}
	r.logger.Debug("trigger finished", append(attrs, "stdout", res.Stdout, "stderr", res.Stderr)...)
	if res.Err != nil {
		r.logger.Warn("trigger failed", append(attrs, "err", res.Err)...)
	}

	r.mu.RLock()
	callbacks := make([]func(*Result), len(r.onResult))
	copy(callbacks, r.onResult)
	r.mu.RUnlock()
	for _, fn := range callbacks {
		fn(res)
	}
}
