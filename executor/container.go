package executor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/testbot/master"
	"github.com/isdmx/testbot/sandbox"
)

// Artifact names of container jobs
const (
	ArtifactBuildLogs        = "docker-build-logs.txt"
	ArtifactRunLogs          = "docker-run-logs.txt"
	ArtifactRunError         = "docker-run-error.txt"
	ArtifactRemoveImageError = "docker-remove-image-error.txt"
)

const (
	dockerfileName = "Dockerfile"
	cpuPeriod      = 100000
)

// ContainerEngine builds and runs images.
type ContainerEngine interface {
	BuildImage(ctx context.Context, contextDir, tag string) (string, error)
	RunContainer(ctx context.Context, image, name string, params sandbox.RunParams) (sandbox.ContainerResult, error)
	RemoveImage(ctx context.Context, image string) error
}

// ContainerExecutor grades a submission inside a container built from the
// environment's Dockerfile.
type ContainerExecutor struct {
	*Job
	env    envTest
	engine ContainerEngine
	params sandbox.RunParams
}

// NewContainerExecutor creates a container executor. The engine is shared by
// all container jobs.
func NewContainerExecutor(ref master.JobRef, deps Deps, cache EnvironmentCache, engine ContainerEngine) *ContainerExecutor {
	job := NewJob(master.KindDocker, ref, deps)
	return &ContainerExecutor{
		Job:    job,
		env:    envTest{job: job, cache: cache},
		engine: engine,
	}
}

// imageNamePattern is the repository name grammar of docker image references.
var imageNamePattern = regexp.MustCompile(`^[a-z0-9]+(?:(?:[._]|__|-+)[a-z0-9]+)*$`)

// ImageTag returns the image tag and container name used for a job. Image
// names are lower case only.
func ImageTag(ref master.JobRef) string {
	return strings.ToLower("submit-test-" + ref.WorkID)
}

// Prepare provisions the workspace and translates the container limits of
// the test configuration.
func (c *ContainerExecutor) Prepare(ctx context.Context) error {
	if err := c.Job.Prepare(ctx); err != nil {
		return err
	}
	if image := ImageTag(c.Ref); !imageNamePattern.MatchString(image) {
		return configErrorf("work id %q cannot be used in an image name", c.Ref.WorkID)
	}
	if err := c.env.prepare(ctx); err != nil {
		return err
	}
	if _, err := c.env.requireFile(dockerfileName); err != nil {
		return err
	}
	c.params = RunParamsFor(c.Config, c.env.vars)
	return nil
}

// RunParamsFor maps the container settings of cfg to run parameters. The
// container is removed after exit and has no network unless cfg says
// otherwise; memory and CPU stay unlimited when unset.
func RunParamsFor(cfg master.TestConfig, vars map[string]string) sandbox.RunParams {
	params := sandbox.RunParams{
		Remove:          true,
		NetworkDisabled: true,
		Environment:     vars,
	}
	if cfg.DockerAutoRemove != nil {
		params.Remove = *cfg.DockerAutoRemove
	}
	if cfg.DockerCPUs != nil {
		params.CPUPeriod = cpuPeriod
		params.CPUQuota = int64(*cfg.DockerCPUs * cpuPeriod)
	}
	if cfg.DockerMemory != nil {
		params.MemLimit = fmt.Sprintf("%dm", *cfg.DockerMemory)
	}
	if cfg.DockerNetwork != nil {
		params.NetworkDisabled = !*cfg.DockerNetwork
	}
	return params
}

// Run builds the image, runs it once and extracts the result from the
// combined output.
func (c *ContainerExecutor) Run(ctx context.Context) (any, error) {
	if _, err := c.Job.Run(ctx); err != nil {
		return nil, err
	}

	image := ImageTag(c.Ref)
	buildLog, err := c.engine.BuildImage(ctx, c.Workspace, image)
	if buildLog != "" {
		c.Artifacts[ArtifactBuildLogs] = []byte(buildLog)
	}
	if err != nil {
		var buildErr *sandbox.BuildError
		if errors.As(err, &buildErr) {
			return nil, &Error{Kind: ExecutionError, Msg: "failed to build test image", Err: err}
		}
		return nil, infraError("failed to build test image", err)
	}

	res, err := c.engine.RunContainer(ctx, image, image, c.params)
	if err != nil {
		if res.Stderr != "" {
			c.Artifacts[ArtifactRunError] = []byte(res.Stderr)
		}
		return nil, infraError("failed to run test container", err)
	}
	if res.ExitCode != 0 {
		if res.Stderr != "" {
			c.Artifacts[ArtifactRunError] = []byte(res.Stderr)
		}
		return nil, c.env.failure(res.ExitCode, []byte(res.Stderr), "test command")
	}

	if res.Output != "" {
		c.Artifacts[ArtifactRunLogs] = []byte(res.Output)
	}
	result := c.env.result([]byte(res.Output))

	if c.params.Remove {
		if err := c.engine.RemoveImage(ctx, image); err != nil {
			c.logger.Warn("failed to remove test image", zap.String("image", image), zap.Error(err))
			c.Artifacts[ArtifactRemoveImageError] = []byte(err.Error())
		}
	}
	return result, nil
}
