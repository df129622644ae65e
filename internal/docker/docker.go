// Package docker wraps the docker CLI around one persistent, named render
// container. It is a pure side-effecting adapter: every operation reports a
// structured result and no business logic lives here.
//
// Failure semantics follow the orchestrator's needs: "not running" is a normal
// answer, a failed start surfaces as a synthetic failed CommandResult, and file
// copies are best-effort booleans. Callers classify outcomes; this package only
// observes them.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrStartFailed reports that the render container could not be started.
var ErrStartFailed = errors.New("container start failed")

// Target identifies the execution sandbox.
type Target struct {
	Name    string `json:"name"`
	WorkDir string `json:"work_dir"`
}

// CommandResult is the uniform outcome of a command executed in the container.
// Start failures are folded in as a failed result with the error in Stderr, so
// callers treat every execution path through one shape.
type CommandResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Succeeded bool
}

// Combined returns stdout and stderr joined, the form the error classifier
// and the AI debugger consume.
func (r CommandResult) Combined() string {
	return r.Stdout + "\n" + r.Stderr
}

// runCommandFunc executes one CLI invocation. Indirection exists so tests can
// substitute a fake docker binary.
type runCommandFunc func(ctx context.Context, env []string, name string, args ...string) (stdout, stderr string, exitCode int, err error)

// Client drives a single named docker container.
type Client struct {
	target         Target
	dockerHost     string // resolved DOCKER_HOST (e.g. from Docker context)
	defaultTimeout time.Duration
	run            runCommandFunc

	// OnStatus, when set, is told about observed running-state changes.
	// It is invoked on its own goroutine and must never block command flow.
	OnStatus func(name string, running bool)
}

// Option configures a Client.
type Option func(*Client)

// WithCommandRunner replaces the CLI invoker. Test hook.
func WithCommandRunner(run runCommandFunc) Option {
	return func(c *Client) { c.run = run }
}

// WithDefaultTimeout bounds operations whose context carries no deadline.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

// NewClient creates an adapter for the given container target.
func NewClient(target Target, opts ...Option) *Client {
	c := &Client{
		target:         target,
		dockerHost:     resolveDockerHost(),
		defaultTimeout: 5 * time.Minute,
		run:            runCLI,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Target returns the container this client is bound to.
func (c *Client) Target() Target { return c.target }

// resolveDockerHost figures out the Docker socket. On macOS, Docker Desktop
// uses a context-specific socket that child processes don't inherit.
func resolveDockerHost() string {
	if h := os.Getenv("DOCKER_HOST"); h != "" {
		return h
	}

	out, err := exec.Command("docker", "context", "inspect", "--format", "{{.Endpoints.docker.Host}}").Output()
	if err == nil {
		host := strings.TrimSpace(string(out))
		if host != "" {
			log.Debug().Str("docker_host", host).Msg("resolved Docker host from context")
			return host
		}
	}

	return ""
}

func runCLI(ctx context.Context, env []string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- argv assembled internally, container name validated by config
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			err = nil // non-zero exit is a result, not a failure of the invocation
		}
	}
	return stdout.String(), stderr.String(), exitCode, err
}

func (c *Client) env() []string {
	if c.dockerHost == "" {
		return nil
	}
	return []string{"DOCKER_HOST=" + c.dockerHost}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.defaultTimeout)
}

// IsRunning reports whether the target container is currently running.
// A missing container is reported as false, not as an error: absence is an
// expected transient state the caller handles.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stdout, _, exitCode, err := c.run(ctx, c.env(),
		"docker", "container", "inspect", "-f", "{{.State.Running}}", c.target.Name)
	if err != nil || exitCode != 0 {
		log.Warn().
			Str("container", c.target.Name).
			Msg("container does not exist or is not accessible")
		return false
	}

	running := strings.TrimSpace(stdout) == "true"
	c.notifyStatus(running)
	return running
}

// EnsureRunning starts the container if it is not already running.
// Calling it on a running target is a no-op success.
func (c *Client) EnsureRunning(ctx context.Context) error {
	if c.IsRunning(ctx) {
		return nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	log.Info().Str("container", c.target.Name).Msg("starting container")
	_, stderr, exitCode, err := c.run(ctx, c.env(), "docker", "start", c.target.Name)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStartFailed, c.target.Name, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%w: %s: %s", ErrStartFailed, c.target.Name, strings.TrimSpace(stderr))
	}

	c.notifyStatus(true)
	return nil
}

// Run executes a shell command in the container, ensuring it runs first.
// A start failure is returned as a failed CommandResult carrying the start
// error in Stderr, never as a raised error: callers treat all execution
// outcomes uniformly.
func (c *Client) Run(ctx context.Context, command, workDir string) CommandResult {
	if err := c.EnsureRunning(ctx); err != nil {
		return CommandResult{
			Stderr:   err.Error(),
			ExitCode: -1,
		}
	}

	shellCmd := command
	if workDir != "" {
		shellCmd = fmt.Sprintf("cd %s && %s", workDir, command)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	log.Info().
		Str("container", c.target.Name).
		Str("command", shellCmd).
		Msg("executing command in container")

	stdout, stderr, exitCode, err := c.run(ctx, c.env(),
		"docker", "exec", c.target.Name, "bash", "-c", shellCmd)
	if err != nil {
		return CommandResult{
			Stdout:   stdout,
			Stderr:   err.Error(),
			ExitCode: -1,
		}
	}

	result := CommandResult{
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  exitCode,
		Succeeded: exitCode == 0,
	}
	if !result.Succeeded {
		log.Warn().
			Str("container", c.target.Name).
			Int("exit_code", exitCode).
			Msg("command failed in container")
	}
	return result
}

// CopyIn copies a host file into the container. Best-effort: failure is
// reported as false and logged, never raised, so the orchestrator can still
// proceed to error classification.
func (c *Client) CopyIn(ctx context.Context, hostPath, containerPath string) bool {
	return c.copy(ctx, hostPath, c.target.Name+":"+containerPath)
}

// CopyOut copies a container file to the host. Same best-effort contract as CopyIn.
func (c *Client) CopyOut(ctx context.Context, containerPath, hostPath string) bool {
	return c.copy(ctx, c.target.Name+":"+containerPath, hostPath)
}

func (c *Client) copy(ctx context.Context, src, dst string) bool {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, stderr, exitCode, err := c.run(ctx, c.env(), "docker", "cp", src, dst)
	if err != nil || exitCode != 0 {
		log.Warn().
			Str("src", src).
			Str("dst", dst).
			Str("stderr", strings.TrimSpace(stderr)).
			Msg("docker cp failed")
		return false
	}
	return true
}

func (c *Client) notifyStatus(running bool) {
	if c.OnStatus == nil {
		return
	}
	go c.OnStatus(c.target.Name, running)
}
