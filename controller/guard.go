package controller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/canopus-io/acceptance-tests/controller/runner"
)

// State tracks where a guarded run is in its lifecycle.
type State int

const (
	StateRunning State = iota
	StateSucceeded
	StateFailed
	StateTeardown
	StateDone
)

// Workflow is one test session producing an exit code. A non-nil error
// means the session itself broke, not that tests failed.
type Workflow func(ctx context.Context) (int, error)

// Guard makes sure the node pool is torn down exactly once, however the
// workflow exits. The single exception: when the run failed and the
// operator asked to keep the nodes for debugging.
type Guard struct {
	runner runner.Runner
	keep   bool
	state  State
}

func NewGuard(r runner.Runner, keep bool) *Guard {
	return &Guard{runner: r, keep: keep}
}

// State returns the guard's current lifecycle state.
func (g *Guard) State() State {
	return g.state
}

// Run executes the workflow and tears the pool down. It returns the exit
// code the process should finish with, and the workflow's error (after
// teardown has been attempted) so the caller can report it.
func (g *Guard) Run(ctx context.Context, w Workflow) (int, error) {
	g.state = StateRunning
	code, err := runWorkflow(ctx, w)

	switch {
	case err != nil:
		g.state = StateFailed
		if code == 0 {
			code = 1
		}
	case code == 0:
		g.state = StateSucceeded
	default:
		g.state = StateFailed
	}

	if g.state == StateFailed && g.keep {
		slog.Info("keep requested, not destroying nodes")
	} else {
		g.state = StateTeardown
		// Teardown is best-effort cleanup; its failure never changes
		// the already-computed outcome. It must still run when the
		// workflow's context was cancelled, that is the path that needs
		// cleanup most.
		if terr := g.runner.StopNodes(context.WithoutCancel(ctx)); terr != nil {
			slog.Error("failed to stop nodes", "error", terr)
		}
	}

	g.state = StateDone
	return code, err
}

func runWorkflow(ctx context.Context, w Workflow) (code int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("workflow panicked: %v", p)
		}
	}()
	return w(ctx)
}
