package party

import (
	"context"
	"sync"

	"github.com/tcriess/lightspeed-party/globals"
	"github.com/tcriess/lightspeed-party/types"
)

// Result aggregates per-listener outcomes of one fan-out. The host-side
// state change is authoritative either way, the result only feeds the
// reported listener counts.
type Result struct {
	Succeeded []string
	Failed    []string
}

type outcome struct {
	userId string
	err    error
}

// FanOut runs cmd once per listener on a bounded worker pool and joins
// before aggregating. Each listener's outcome is isolated, one
// unreachable device neither cancels the siblings nor fails the
// broadcast.
func (e *Executor) FanOut(ctx context.Context, listeners []*types.User, width int, cmd Command) *Result {
	res := &Result{
		Succeeded: make([]string, 0, len(listeners)),
		Failed:    make([]string, 0),
	}
	if len(listeners) == 0 {
		return res
	}
	if width <= 0 {
		width = 1
	}
	if width > len(listeners) {
		width = len(listeners)
	}

	jobs := make(chan *types.User)
	outcomes := make(chan outcome, len(listeners))
	var wg sync.WaitGroup
	for i := 0; i < width; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for listener := range jobs {
				outcomes <- outcome{userId: listener.Id, err: e.Execute(ctx, listener, cmd)}
			}
		}()
	}
	for _, listener := range listeners {
		jobs <- listener
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	for o := range outcomes {
		if o.err != nil {
			globals.AppLogger.Info("listener unreachable during fan-out", "user", o.userId, "error", o.err)
			res.Failed = append(res.Failed, o.userId)
			continue
		}
		res.Succeeded = append(res.Succeeded, o.userId)
	}
	return res
}
