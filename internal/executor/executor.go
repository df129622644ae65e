// Package executor owns the execution-retry orchestration loop: stage a
// script into the render container, dispatch it, classify the failure,
// remediate (dependency install before AI debug), and retry until success or
// the attempt budget runs out. Cleanup runs on every exit path.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/prithvirajz/Manim-Video-Generator/internal/ai"
	"github.com/prithvirajz/Manim-Video-Generator/internal/deps"
	"github.com/prithvirajz/Manim-Video-Generator/internal/docker"
	"github.com/prithvirajz/Manim-Video-Generator/internal/monitor"
	"github.com/prithvirajz/Manim-Video-Generator/internal/script"
)

// Runtime is the slice of the container adapter the loop drives.
type Runtime interface {
	Target() docker.Target
	Run(ctx context.Context, command, workDir string) docker.CommandResult
	CopyIn(ctx context.Context, hostPath, containerPath string) bool
	CopyOut(ctx context.Context, containerPath, hostPath string) bool
}

// DependencyFixer detects and installs missing modules from error text.
type DependencyFixer interface {
	DetectAndInstall(ctx context.Context, errorText string) deps.Report
}

// ScriptDebugger produces a candidate replacement script for a failure.
type ScriptDebugger interface {
	Debug(ctx context.Context, scriptText, errorText string) ai.DebugResult
}

// ScriptLoader resolves stored script handles. Optional; without it, handle
// inputs are invalid input.
type ScriptLoader interface {
	LoadScript(ctx context.Context, id string) (script.Script, error)
}

// Observer receives loop-level measurements. Optional.
type Observer interface {
	ObserveAttempt(outcome string, seconds float64)
	ObserveRemediation(kind string)
	ObserveRun(status string, attempts int)
}

// Options tune one Executor.
type Options struct {
	// MaxAttempts bounds the retry loop. Defaults to 100.
	MaxAttempts int
	// AttemptTimeout bounds the render command of a single attempt.
	// Defaults to 5 minutes.
	AttemptTimeout time.Duration
	// MediaRoot is the host directory rendered artifacts are copied under.
	MediaRoot string
	// Quality is the Manim quality directory tag. Defaults to "720p30"
	// (the -qm medium-quality output).
	Quality string
}

// Overrides narrow one run's budget below the configured options. Zero values
// keep the configured value; an override can only lower a budget, never raise
// it.
type Overrides struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
}

func (o Overrides) maxAttempts(configured int) int {
	if o.MaxAttempts > 0 && o.MaxAttempts < configured {
		return o.MaxAttempts
	}
	return configured
}

func (o Overrides) attemptTimeout(configured time.Duration) time.Duration {
	if o.AttemptTimeout > 0 && o.AttemptTimeout < configured {
		return o.AttemptTimeout
	}
	return configured
}

func (o *Options) fillDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 100
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 5 * time.Minute
	}
	if o.Quality == "" {
		o.Quality = "720p30"
	}
	if o.MediaRoot == "" {
		o.MediaRoot = "media"
	}
}

// Executor drives the retry state machine. Attempts within one Execute call
// are strictly sequential; callers running concurrent executions against one
// container must supply their own serialization.
type Executor struct {
	runtime  Runtime
	resolver DependencyFixer
	debugger ScriptDebugger
	sink     Sink
	scripts  ScriptLoader // may be nil
	observer Observer     // may be nil
	opts     Options
}

// New builds an Executor. sink may be nil (NopSink is used).
func New(runtime Runtime, resolver DependencyFixer, debugger ScriptDebugger, sink Sink, opts Options) *Executor {
	opts.fillDefaults()
	if sink == nil {
		sink = NopSink{}
	}
	return &Executor{
		runtime:  runtime,
		resolver: resolver,
		debugger: debugger,
		sink:     sink,
		opts:     opts,
	}
}

// WithScriptLoader enables handle inputs.
func (e *Executor) WithScriptLoader(loader ScriptLoader) *Executor {
	e.scripts = loader
	return e
}

// WithObserver attaches loop metrics.
func (e *Executor) WithObserver(obs Observer) *Executor {
	e.observer = obs
	return e
}

// Execute runs the retry loop for one script input. It never panics across
// this boundary: internal faults become attempt failures, and the returned
// RunResult always carries the best-known script text, the terminal error and
// the attempt count. The error is non-nil only for invalid input (checked
// before any attempt is recorded) and for terminal failure.
func (e *Executor) Execute(ctx context.Context, input script.Input) (*RunResult, error) {
	return e.run(ctx, input, e.sink, Overrides{})
}

// ExecuteWithSink runs like Execute but additionally notifies extra, letting
// callers observe attempts as they complete (progress streaming). The
// configured sink still receives everything.
func (e *Executor) ExecuteWithSink(ctx context.Context, input script.Input, extra Sink) (*RunResult, error) {
	return e.ExecuteWithOverrides(ctx, input, extra, Overrides{})
}

// ExecuteWithOverrides runs with per-call budget overrides and an optional
// extra sink. extra may be nil.
func (e *Executor) ExecuteWithOverrides(ctx context.Context, input script.Input, extra Sink, ov Overrides) (*RunResult, error) {
	if extra == nil {
		return e.run(ctx, input, e.sink, ov)
	}
	return e.run(ctx, input, multiSink{e.sink, extra}, ov)
}

type multiSink []Sink

func (m multiSink) RecordAttempt(runID string, attempt Attempt) {
	for _, s := range m {
		s.RecordAttempt(runID, attempt)
	}
}

func (m multiSink) RecordScriptStatus(scriptID string, status script.Status) {
	for _, s := range m {
		s.RecordScriptStatus(scriptID, status)
	}
}

func (m multiSink) RecordRun(run *Run) {
	for _, s := range m {
		s.RecordRun(run)
	}
}

func (e *Executor) run(ctx context.Context, input script.Input, sink Sink, ov Overrides) (*RunResult, error) {
	s, err := e.resolveInput(ctx, input)
	if err != nil {
		return nil, &RunError{Op: "resolve_input", Err: fmt.Errorf("%w: %v", ErrInvalidInput, err)}
	}

	maxAttempts := ov.maxAttempts(e.opts.MaxAttempts)
	attemptTimeout := ov.attemptTimeout(e.opts.AttemptTimeout)

	run := newRun(s, e.runtime.Target())
	runTag := strings.ReplaceAll(run.ID, "-", "")[:8]

	logger := log.With().
		Str("run_id", run.ID).
		Str("script_id", s.ID).
		Str("container", run.Target.Name).
		Logger()
	logger.Info().Int("max_attempts", maxAttempts).Msg("execution run started")

	// Terminal cleanup: purge every staged file this run could have left in
	// the container, past whatever the per-attempt cleanup already removed.
	defer e.cleanupRun(runTag)

	current := s.Content
	var lastErr string

	for attemptNo := 1; attemptNo <= maxAttempts; attemptNo++ {
		// Cancellation is observed at the iteration boundary: no new
		// attempt starts after the context is done.
		if ctxErr := ctx.Err(); ctxErr != nil {
			if lastErr == "" {
				lastErr = ctxErr.Error()
			}
			logger.Warn().Int("attempt", attemptNo).Msg("run cancelled before next attempt")
			break
		}

		attempt := Attempt{
			Number:         attemptNo,
			ScriptSnapshot: current,
			StartedAt:      time.Now(),
		}
		e.transition(sink, run, script.StatusExecuting)
		logger.Info().Int("attempt", attemptNo).Msg("executing script")

		outputPath := e.runAttempt(ctx, runTag, current, attemptTimeout, &attempt)
		attempt.CompletedAt = time.Now()

		run.Attempts = append(run.Attempts, attempt)
		e.notifyAttempt(sink, run.ID, attempt)
		e.observeAttempt(attempt)

		if attempt.Outcome == OutcomeSuccess {
			run.FinalOutcome = RunSucceeded
			run.OutputPath = outputPath
			run.CompletedAt = time.Now()
			run.Script.Content = current
			e.transition(sink, run, script.StatusSuccessful)
			e.notifyRun(sink, run)
			e.observeRun(RunSucceeded, attemptNo)

			logger.Info().
				Int("attempts_used", attemptNo).
				Str("output_path", outputPath).
				Msg("execution run succeeded")

			return &RunResult{
				Success:      true,
				OutputPath:   outputPath,
				AttemptsUsed: attemptNo,
				Script:       current,
				Run:          run,
			}, nil
		}

		lastErr = attempt.Error
		run.ErrorHistory = append(run.ErrorHistory, attempt.Error)
		logger.Warn().
			Int("attempt", attemptNo).
			Str("class", attempt.Class).
			Str("hint", attempt.Hint).
			Str("error", truncate(attempt.Error, 400)).
			Msg("attempt failed")

		if attemptNo >= maxAttempts {
			break
		}

		// Dependency remediation always runs before AI debugging, every
		// iteration: a regenerated script can reintroduce the same missing
		// import, and the deterministic fix is cheaper than a provider call.
		if report := e.resolver.DetectAndInstall(ctx, attempt.Error); report.AnyInstalled() {
			logger.Info().Strs("installed", report.Installed).Msg("installed missing dependencies, retrying same script")
			e.observeRemediation("dependency")
			continue
		}

		e.transition(sink, run, script.StatusDebugging)
		result := e.debugger.Debug(ctx, current, attempt.Error)
		if result.FixedScript != "" {
			// The returned script is used even when textually unchanged:
			// the prior failure may have been environmental.
			current = result.FixedScript
		}
		e.observeRemediation(result.Source)
		if result.Changed {
			logger.Info().Str("source", result.Source).Msg("debugger produced a fixed script, retrying")
		} else {
			logger.Warn().Msg("debugger did not change the script, retrying anyway")
		}
	}

	run.FinalOutcome = RunFailed
	run.CompletedAt = time.Now()
	run.Script.Content = current
	e.transition(sink, run, script.StatusFailed)
	e.notifyRun(sink, run)
	e.observeRun(RunFailed, len(run.Attempts))

	attemptsUsed := len(run.Attempts)
	logger.Error().
		Int("attempts_used", attemptsUsed).
		Str("error", truncate(lastErr, 400)).
		Msg("execution run failed")

	return &RunResult{
			Success:      false,
			Error:        lastErr,
			AttemptsUsed: attemptsUsed,
			Script:       current,
			Run:          run,
		}, &RunError{
			RunID: run.ID,
			Op:    "execute",
			Err:   fmt.Errorf("%w after %d attempts: %s", ErrExhausted, attemptsUsed, truncate(lastErr, 200)),
		}
}

// resolveInput turns caller input into a script, loading handles through the
// configured loader. Any failure here is InvalidInput: it happens before the
// loop and no attempt is recorded.
func (e *Executor) resolveInput(ctx context.Context, input script.Input) (script.Script, error) {
	if input.Kind() == script.KindHandle {
		if e.scripts == nil {
			return script.Script{}, fmt.Errorf("script handle %q given but no script store configured", input.Handle())
		}
		s, err := e.scripts.LoadScript(ctx, input.Handle())
		if err != nil {
			return script.Script{}, fmt.Errorf("unknown script handle %q: %v", input.Handle(), err)
		}
		if strings.TrimSpace(s.Content) == "" {
			return script.Script{}, fmt.Errorf("script %q has no content", input.Handle())
		}
		return s, nil
	}
	return input.Resolve()
}

// runAttempt stages and executes one attempt, finalizing outcome, class,
// captured output and error on the attempt. It returns the host path of the
// rendered artifact on success. Unexpected faults are caught here and become
// this attempt's failure rather than unwinding the run.
func (e *Executor) runAttempt(ctx context.Context, runTag, content string, timeout time.Duration, attempt *Attempt) (outputPath string) {
	defer func() {
		if r := recover(); r != nil {
			attempt.Outcome = OutcomeFailure
			attempt.Class = ClassExecutionFailed
			attempt.Error = fmt.Sprintf("internal fault during attempt: %v", r)
			log.Error().Interface("panic", r).Int("attempt", attempt.Number).Msg("panic recovered at iteration boundary")
		}
	}()

	// Staging: the render command needs a scene class to invoke. A script
	// without one is a remediation case, not a container error — nothing is
	// dispatched.
	scene := script.ExtractSceneClass(content)
	if scene == "" {
		attempt.Outcome = OutcomeFailure
		attempt.Class = ClassNoEntryPoint
		attempt.Error = ErrNoEntryPoint.Error()
		return ""
	}

	target := e.runtime.Target()
	baseName := fmt.Sprintf("manim_%s_%d", runTag, attempt.Number)
	containerScript := target.WorkDir + "/" + baseName + ".py"

	hostDir, err := os.MkdirTemp("", baseName+"-*")
	if err != nil {
		attempt.Outcome = OutcomeFailure
		attempt.Class = ClassExecutionFailed
		attempt.Error = fmt.Sprintf("creating staging directory: %v", err)
		return ""
	}
	// Per-iteration cleanup runs unconditionally; deletion failures are
	// logged, never escalated, so they cannot mask the execution outcome.
	defer e.cleanupAttempt(hostDir, containerScript)

	hostScript := filepath.Join(hostDir, baseName+".py")
	if err := os.WriteFile(hostScript, []byte(content), 0600); err != nil {
		attempt.Outcome = OutcomeFailure
		attempt.Class = ClassExecutionFailed
		attempt.Error = fmt.Sprintf("writing script file: %v", err)
		return ""
	}

	if !e.runtime.CopyIn(ctx, hostScript, containerScript) {
		attempt.Outcome = OutcomeFailure
		attempt.Class = ClassRuntimeUnavailable
		attempt.Error = fmt.Sprintf("failed to copy script into container %s", target.Name)
		return ""
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	renderCmd := fmt.Sprintf("python -m manim %s.py %s -qm", baseName, scene)
	result := e.runtime.Run(execCtx, renderCmd, target.WorkDir)
	attempt.Stdout = result.Stdout
	attempt.Stderr = result.Stderr

	// The artifact lands at a deterministic path derived from the staged
	// file's base name; the presence check depends on this convention.
	relArtifact := filepath.Join("videos", baseName, e.opts.Quality, scene+".mp4")
	hostArtifact := filepath.Join(e.opts.MediaRoot, relArtifact)

	if result.Succeeded {
		if err := os.MkdirAll(filepath.Dir(hostArtifact), 0750); err != nil {
			attempt.Outcome = OutcomeFailure
			attempt.Class = ClassExecutionFailed
			attempt.Error = fmt.Sprintf("creating artifact directory: %v", err)
			return ""
		}

		containerArtifact := target.WorkDir + "/" + filepath.ToSlash(relArtifact)
		e.runtime.CopyOut(ctx, containerArtifact, hostArtifact)

		// Success requires both a zero exit code and the artifact being
		// present after copy-out; the adapter is not deterministic about
		// partial writes.
		if _, err := os.Stat(hostArtifact); err == nil {
			attempt.Outcome = OutcomeSuccess
			return relArtifact
		}

		attempt.Outcome = OutcomeFailure
		attempt.Class = ClassExecutionFailed
		attempt.Error = failureText(result, "render reported success but no output artifact was produced")
		return ""
	}

	attempt.Outcome = OutcomeFailure
	if strings.Contains(result.Stderr, docker.ErrStartFailed.Error()) {
		attempt.Class = ClassRuntimeUnavailable
	} else {
		attempt.Class = ClassExecutionFailed
	}
	attempt.Error = failureText(result, "render command failed with no error output")
	attempt.Hint = string(monitor.ClassifyFailure(attempt.Error))
	return ""
}

// cleanupAttempt removes the attempt's staging directory on the host and the
// staged script in the container. Idempotent: a second call on the same paths
// is a silent no-op.
func (e *Executor) cleanupAttempt(hostDir, containerScript string) {
	if err := os.RemoveAll(hostDir); err != nil {
		log.Warn().Err(err).Str("path", hostDir).Msg("failed to remove staging directory")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res := e.runtime.Run(ctx, "rm -f "+containerScript, "")
	if !res.Succeeded {
		log.Debug().Str("path", containerScript).Msg("container staging cleanup failed")
	}
}

// cleanupRun purges everything in the container matching this run's tag:
// staged scripts and leftover render output. Best-effort, runs on every exit
// path.
func (e *Executor) cleanupRun(runTag string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	wd := e.runtime.Target().WorkDir
	for _, cmd := range []string{
		fmt.Sprintf("rm -f %s/manim_%s_*.py", wd, runTag),
		fmt.Sprintf("rm -rf %s/videos/manim_%s_*", wd, runTag),
	} {
		if res := e.runtime.Run(ctx, cmd, ""); !res.Succeeded {
			log.Debug().Str("command", cmd).Msg("container run cleanup failed")
		}
	}
}

// transition advances the script lifecycle and reports the change through
// the sink. Repeated transitions to the current status are silent.
func (e *Executor) transition(sink Sink, run *Run, status script.Status) {
	if run.Script.Status == status {
		return
	}
	run.Script.Status = status
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("record sink panicked on script status")
		}
	}()
	sink.RecordScriptStatus(run.Script.ID, status)
}

// notifyAttempt and notifyRun shield the loop from sink faults.
func (e *Executor) notifyAttempt(sink Sink, runID string, attempt Attempt) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("record sink panicked on attempt")
		}
	}()
	sink.RecordAttempt(runID, attempt)
}

func (e *Executor) notifyRun(sink Sink, run *Run) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("record sink panicked on run")
		}
	}()
	sink.RecordRun(run)
}

func (e *Executor) observeAttempt(a Attempt) {
	if e.observer == nil {
		return
	}
	e.observer.ObserveAttempt(a.Outcome, a.CompletedAt.Sub(a.StartedAt).Seconds())
}

func (e *Executor) observeRemediation(kind string) {
	if e.observer != nil {
		e.observer.ObserveRemediation(kind)
	}
}

func (e *Executor) observeRun(status string, attempts int) {
	if e.observer != nil {
		e.observer.ObserveRun(status, attempts)
	}
}

func failureText(result docker.CommandResult, fallback string) string {
	if s := strings.TrimSpace(result.Stderr); s != "" {
		return s
	}
	if s := strings.TrimSpace(result.Stdout); s != "" {
		return s
	}
	return fallback
}

// truncate shortens s to at most max bytes without splitting a UTF-8 rune;
// tracebacks routinely contain non-ASCII quotes and box-drawing characters.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}
