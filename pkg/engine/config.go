package engine

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/docker/image-sorter/pkg/config"
)

const (
	// DefaultHost is the loopback address the engine binds to.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the engine's API port.
	DefaultPort = 5001
	// DefaultContextSize is the engine context window.
	DefaultContextSize = 4096
	// DefaultStartTimeout bounds how long EnsureReady waits for the engine.
	DefaultStartTimeout = 90 * time.Second
	// DefaultPollInterval is the readiness probe interval.
	DefaultPollInterval = time.Second
)

// disallowedArgs are controlled by the supervisor and may not be passed
// through LLAMA_ARGS.
var disallowedArgs = []string{"--model", "--mmproj", "--host", "--port"}

// Config is the configuration for launching the inference engine.
type Config struct {
	// ServerPath is the engine executable.
	ServerPath string
	// Host and Port are where the engine serves its API.
	Host string
	Port int
	// ContextSize is passed as --contextsize.
	ContextSize int
	// LowVRAM keeps the projector on the CPU and enables flash attention.
	LowVRAM bool
	// Args are extra arguments that are always included.
	Args []string
	// StartTimeout bounds the readiness wait.
	StartTimeout time.Duration
	// PollInterval is the delay between readiness probes.
	PollInterval time.Duration
	// Transport carries API requests to the engine. Nil selects
	// http.DefaultTransport.
	Transport http.RoundTripper
}

// NewDefaultConfig creates a Config with default values for serverPath.
func NewDefaultConfig(serverPath string) *Config {
	return &Config{
		ServerPath:   serverPath,
		Host:         DefaultHost,
		Port:         DefaultPort,
		ContextSize:  DefaultContextSize,
		StartTimeout: DefaultStartTimeout,
		PollInterval: DefaultPollInterval,
	}
}

// Address returns the host:port the engine listens on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// BaseURL returns the root of the engine's OpenAI-compatible API.
func (c *Config) BaseURL() string {
	return "http://" + c.Address() + "/v1"
}

// GetArgs returns the engine command line for models.
func (c *Config) GetArgs(models config.Models) []string {
	// Start with the base arguments.
	args := append([]string{}, c.Args...)

	contextSize := c.ContextSize
	if contextSize <= 0 {
		contextSize = DefaultContextSize
	}
	args = append(args,
		"--model", models.Main,
		"--mmproj", models.Projector,
		"--host", c.Host,
		"--port", strconv.Itoa(c.Port),
		"--quiet",
		"--contextsize", strconv.Itoa(contextSize),
	)
	if c.LowVRAM {
		args = append(args, "--mmprojcpu", "--flashattention")
	}
	return args
}

// ParseArgs splits a user-supplied argument string, respecting shell
// quoting, and rejects arguments the supervisor controls.
func ParseArgs(s string) ([]string, error) {
	args, err := shellwords.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("unable to parse engine arguments: %w", err)
	}
	for _, arg := range args {
		for _, disallowed := range disallowedArgs {
			if arg == disallowed {
				return nil, fmt.Errorf("%w: %s", ErrDisallowedArgument, disallowed)
			}
		}
	}
	return args, nil
}
