package runner

import "errors"

// Sentinel errors for the distinguishable failure classes of a run.
var (
	// ErrResolution means the analysis collaborator could not turn the
	// selection into commands.
	ErrResolution = errors.New("command resolution failed")

	// ErrSpawn means a resolved command could not be started.
	ErrSpawn = errors.New("process spawn failed")

	// ErrProtocol means the event stream carried data the engine could
	// not decode.
	ErrProtocol = errors.New("event stream protocol error")

	// ErrUnmatchedID means a streamed event named a node that could not
	// be resolved against the hierarchy even after re-discovery.
	ErrUnmatchedID = errors.New("event references unknown test id")

	// ErrCancelled is the cancellation cause recorded when the caller
	// stops a run.
	ErrCancelled = errors.New("run cancelled")
)
