package registry

import (
	"context"
	"fmt"

	"github.com/landsure/landsure-registry/interfaces"
)

// Gate is a one-shot readiness handle. Operations wait on it instead of
// checking an "initialized" flag.
type Gate struct {
	done chan struct{}
	err  error
}

// StartGate runs init in the background and resolves the gate with its result.
func StartGate(ctx context.Context, init func(context.Context) error) *Gate {
	g := &Gate{done: make(chan struct{})}
	go func() {
		defer close(g.done)
		g.err = init(ctx)
	}()
	return g
}

// ResolvedGate returns a gate that is already resolved with err.
func ResolvedGate(err error) *Gate {
	g := &Gate{done: make(chan struct{}), err: err}
	close(g.done)
	return g
}

// Wait blocks until initialization finished or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		if g.err != nil {
			return fmt.Errorf("%w: %v", interfaces.ErrLedgerNotReady, g.err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) Done() <-chan struct{} {
	return g.done
}
