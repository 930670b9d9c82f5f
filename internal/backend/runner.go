// Package backend starts and supervises the live agent processes and
// connections whose event streams the adapters translate.
package backend

import (
	"context"

	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/protocol"
)

// StartParams configures a new or resumed backend run.
type StartParams struct {
	Backend         models.Backend
	WorkspacePath   string
	Prompt          string
	ResumeSessionID string
}

// Runner is a live backend process or connection. Events delivers native
// backend events in emission order and is closed when the backend
// terminates; Stop terminates the backend and eventually closes Events.
type Runner interface {
	// Events is the native event stream, closed on termination.
	Events() <-chan protocol.NativeEvent

	// Send delivers user input into the running backend, resuming it if
	// it is idle.
	Send(ctx context.Context, text string) error

	// Stop terminates the backend process/connection.
	Stop() error

	// Err returns the terminal error after Events is closed, nil for a
	// clean exit.
	Err() error
}

// Factory creates runners. The orchestrator depends only on the adapter's
// translated output, never on a runner's concrete transport.
type Factory interface {
	Start(ctx context.Context, repo models.RepositoryConfig, params StartParams) (Runner, error)
}
