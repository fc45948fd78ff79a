package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/docker/image-sorter/pkg/engine"
)

func TestCreateEngineConfigFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		llamaArgs string
		port      string
		wantArgs  []string
		wantPort  int
		wantErr   bool
	}{
		{
			name:     "empty args",
			wantPort: engine.DefaultPort,
		},
		{
			name:      "valid args",
			llamaArgs: "--threads 4 --gpulayers 99",
			wantArgs:  []string{"--threads", "4", "--gpulayers", "99"},
			wantPort:  engine.DefaultPort,
		},
		{
			name:      "quoted args",
			llamaArgs: "--chatcompletionsadapter \"my adapter.json\" --threads 4",
			wantArgs:  []string{"--chatcompletionsadapter", "my adapter.json", "--threads", "4"},
			wantPort:  engine.DefaultPort,
		},
		{
			name:      "disallowed model arg",
			llamaArgs: "--model test.gguf",
			wantErr:   true,
		},
		{
			name:      "disallowed mmproj arg",
			llamaArgs: "--mmproj test.mmproj",
			wantErr:   true,
		},
		{
			name:      "disallowed port arg",
			llamaArgs: "--threads 4 --port 8080",
			wantErr:   true,
		},
		{
			name:      "unterminated quote",
			llamaArgs: "--threads \"4",
			wantErr:   true,
		},
		{
			name:     "custom port",
			port:     "5123",
			wantPort: 5123,
		},
		{
			name:    "invalid port",
			port:    "http",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LLAMA_ARGS", tt.llamaArgs)
			t.Setenv("IMAGE_SORTER_ENGINE_PORT", tt.port)

			// Capture fatal errors instead of exiting
			originalLog := log
			defer func() { log = originalLog }()
			testLog := logrus.New()
			var exitCode int
			testLog.ExitFunc = func(code int) {
				exitCode = code
			}
			log = testLog

			conf := createEngineConfigFromEnv("/opt/engine")

			if tt.wantErr {
				require.Equal(t, 1, exitCode)
				return
			}
			require.Equal(t, 0, exitCode)
			require.Equal(t, "/opt/engine", conf.ServerPath)
			require.Equal(t, tt.wantArgs, conf.Args)
			require.Equal(t, tt.wantPort, conf.Port)
		})
	}
}

func TestExecutableDir(t *testing.T) {
	require.NotEmpty(t, executableDir())
}
