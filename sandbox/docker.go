package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const stopTimeout = 30 * time.Second

// Exit statuses reserved by the docker CLI for its own failures
const (
	ExitStatusEngineError  = 125
	ExitStatusCannotInvoke = 126
	ExitStatusNotFound     = 127
)

// RunParams holds the resource and isolation settings of a container run.
// Zero values leave the engine default in place.
type RunParams struct {
	Remove          bool
	CPUPeriod       int64
	CPUQuota        int64
	MemLimit        string
	NetworkDisabled bool
	Environment     map[string]string
}

// Args renders the params as docker run flags. Environment variables are
// emitted in key order.
func (p RunParams) Args() []string {
	var args []string
	if p.Remove {
		args = append(args, "--rm")
	}
	if p.CPUPeriod > 0 {
		args = append(args, "--cpu-period", strconv.FormatInt(p.CPUPeriod, 10))
	}
	if p.CPUQuota > 0 {
		args = append(args, "--cpu-quota", strconv.FormatInt(p.CPUQuota, 10))
	}
	if p.MemLimit != "" {
		args = append(args, "--memory", p.MemLimit)
	}
	if p.NetworkDisabled {
		args = append(args, "--network", "none")
	}

	keys := make([]string, 0, len(p.Environment))
	for k := range p.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+p.Environment[k])
	}
	return args
}

// ContainerResult is the outcome of a container run that started. Output
// holds stdout and stderr combined.
type ContainerResult struct {
	Output   string
	Stderr   string
	ExitCode int
}

// BuildError is returned when an image build exits non-zero.
type BuildError struct {
	ExitCode int
	Log      string
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("image build failed with exit status %d", e.ExitCode)
	if last := lastLine(e.Log); last != "" {
		msg += ": " + last
	}
	return msg
}

// EngineError is returned when the engine failed rather than the workload:
// the daemon is unreachable, the container could not be created or its
// command could not be started.
type EngineError struct {
	Op       string
	ExitCode int
	Stderr   string
}

func (e *EngineError) Error() string {
	msg := fmt.Sprintf("%s: engine exited with status %d", e.Op, e.ExitCode)
	if last := lastLine(e.Stderr); last != "" {
		msg += ": " + last
	}
	return msg
}

// IsEngineExitStatus reports whether a docker run exit status belongs to the
// CLI instead of the container.
func IsEngineExitStatus(code int) bool {
	switch code {
	case ExitStatusEngineError, ExitStatusCannotInvoke, ExitStatusNotFound:
		return true
	}
	return false
}

// Docker drives a Docker-compatible CLI. One instance is shared by all
// container jobs of the process.
type Docker struct {
	logger    *zap.Logger
	binary    string
	cmdRunner CommandRunner
}

// DockerOption defines a functional option for Docker
type DockerOption func(*Docker)

// WithDockerCommandRunner sets the CommandRunner for Docker
func WithDockerCommandRunner(cmdRunner CommandRunner) DockerOption {
	return func(d *Docker) {
		d.cmdRunner = cmdRunner
	}
}

// WithDockerBinary sets the CLI binary, e.g. "podman"
func WithDockerBinary(binary string) DockerOption {
	return func(d *Docker) {
		if binary != "" {
			d.binary = binary
		}
	}
}

// NewDocker creates a new Docker engine with default implementations and optional interfaces
func NewDocker(logger *zap.Logger, opts ...DockerOption) *Docker {
	d := &Docker{
		logger:    logger,
		binary:    "docker",
		cmdRunner: &RealCommandRunner{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// BuildImage builds the image described by the Dockerfile in contextDir and
// tags it. The build log is returned even when the build fails. A failed
// build is a BuildError only when the engine still answers; otherwise it is
// an EngineError.
func (d *Docker) BuildImage(ctx context.Context, contextDir, tag string) (string, error) {
	args := []string{d.binary, "build", "--tag", tag, contextDir}
	log, _, exitCode, err := d.cmdRunner.RunCommand(ctx, args, WithCombinedOutput())
	if err != nil {
		return log, fmt.Errorf("failed to run image build: %w", err)
	}
	if exitCode != 0 {
		if stderr, ok := d.engineReachable(ctx); !ok {
			return log, &EngineError{Op: "image build", ExitCode: exitCode, Stderr: stderr}
		}
		return log, &BuildError{ExitCode: exitCode, Log: log}
	}
	d.logger.Debug("image built", zap.String("tag", tag))
	return log, nil
}

// RunContainer runs image once in a container called name and waits for it
// to exit. A non-zero exit of the container is reported in the result, not as
// an error. Exit statuses reserved by the CLI yield an EngineError along with
// the result.
func (d *Docker) RunContainer(ctx context.Context, image, name string, params RunParams) (ContainerResult, error) {
	args := []string{d.binary, "run", "--name", name}
	args = append(args, params.Args()...)
	args = append(args, image)

	d.logger.Debug("running container",
		zap.String("name", name),
		zap.Strings("args", args[2:]))

	output, stderr, exitCode, err := d.cmdRunner.RunCommand(ctx, args, WithCombinedOutput())

	if ctx.Err() != nil {
		// The CLI was killed but the container may still be running.
		d.forceRemove(name)
		return ContainerResult{Output: output, Stderr: stderr, ExitCode: exitCode},
			fmt.Errorf("container %s interrupted: %w", name, ctx.Err())
	}
	if err != nil {
		return ContainerResult{}, fmt.Errorf("failed to run container: %w", err)
	}

	res := ContainerResult{Output: output, Stderr: stderr, ExitCode: exitCode}
	if IsEngineExitStatus(exitCode) {
		return res, &EngineError{Op: "container run", ExitCode: exitCode, Stderr: stderr}
	}
	return res, nil
}

// engineReachable asks the daemon for its version. The stderr of the query
// is returned when it fails.
func (d *Docker) engineReachable(ctx context.Context) (string, bool) {
	args := []string{d.binary, "version", "--format", "{{.Server.Version}}"}
	_, stderr, exitCode, err := d.cmdRunner.RunCommand(ctx, args)
	if err != nil {
		return err.Error(), false
	}
	return stderr, exitCode == 0
}

// RemoveImage deletes an image. It fails when the image is still referenced.
func (d *Docker) RemoveImage(ctx context.Context, image string) error {
	_, stderr, exitCode, err := d.cmdRunner.RunCommand(ctx, []string{d.binary, "image", "rm", image})
	if err != nil {
		return fmt.Errorf("failed to run image removal: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("image removal exited with status %d: %s", exitCode, strings.TrimSpace(stderr))
	}
	return nil
}

func (d *Docker) forceRemove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	_, stderr, exitCode, err := d.cmdRunner.RunCommand(ctx, []string{d.binary, "rm", "--force", name})
	if err != nil || exitCode != 0 {
		d.logger.Warn("failed to remove container after interruption",
			zap.String("container", name),
			zap.String("stderr", strings.TrimSpace(stderr)),
			zap.Error(err))
	}
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n ")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
