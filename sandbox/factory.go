package sandbox

import (
	"go.uber.org/zap"
)

// Config selects the binaries used by the engines
type Config struct {
	DockerBinary string
	Shell        string
}

// NewEngines creates the process-wide container engine and script runner
func NewEngines(logger *zap.Logger, config Config) (*Docker, *Script) {
	docker := NewDocker(logger.Named("docker"), WithDockerBinary(config.DockerBinary))
	script := NewScript(logger.Named("script"), WithScriptShell(config.Shell))
	return docker, script
}
