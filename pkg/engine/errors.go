package engine

import (
	"errors"
)

// ErrModelFilesMissing indicates that the configured main weights or
// projector file does not exist. It is raised before any process is spawned.
var ErrModelFilesMissing = errors.New("active model files missing")

// ErrEngineCrashed indicates that the engine process exited before it
// became ready.
var ErrEngineCrashed = errors.New("inference engine exited before becoming ready")

// ErrEngineStartTimeout indicates that the engine did not answer its model
// listing endpoint within the start timeout. The process has been stopped by
// the time this error is returned.
var ErrEngineStartTimeout = errors.New("timed out waiting for inference engine")

// ErrEngineRequestFailed indicates that an API call to the engine failed, timed
// out, or returned a non-2xx status. Such calls are never retried here.
var ErrEngineRequestFailed = errors.New("inference engine request failed")

// ErrDisallowedArgument indicates that user-supplied engine arguments tried
// to override an argument the supervisor controls.
var ErrDisallowedArgument = errors.New("argument is controlled by the supervisor")

// IsLifecycleError reports whether err is fatal to a batch run, i.e. the
// engine could not be brought up.
func IsLifecycleError(err error) bool {
	return errors.Is(err, ErrModelFilesMissing) ||
		errors.Is(err, ErrEngineCrashed) ||
		errors.Is(err, ErrEngineStartTimeout)
}
