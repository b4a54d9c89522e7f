// Package sandbox runs grading workloads as external processes.
//
// Two engines are provided. Docker drives a Docker-compatible CLI to build an
// image from a workspace, run it once with resource limits and remove it
// afterwards. Script runs a shell script directly on the host with no
// isolation, for trusted environments.
//
// Both engines execute through the CommandRunner interface so tests can
// replace the real process execution.
//
// Usage:
//
//	docker := sandbox.NewDocker(logger)
//	buildLog, err := docker.BuildImage(ctx, workspace, "submit-test-42")
//	res, err := docker.RunContainer(ctx, "submit-test-42", "submit-test-42", sandbox.RunParams{Remove: true})
package sandbox
