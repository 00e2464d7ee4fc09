package action

import (
	"context"
	"fmt"
	"time"

	"github.com/mlodash/autoflow/model"
)

const MAX_DELAY_SECONDS = 3600

var _ Action = new(delayAction)

type delayAction struct{}

func (d *delayAction) Kind() model.ActionKind { return model.ACTION_DELAY }

func (d *delayAction) Validate(params map[string]any) error {
	v, ok := params["seconds"]
	if !ok {
		return fmt.Errorf("parameter seconds is required")
	}
	if isTemplate(v) {
		return nil
	}
	seconds, ok := toFloat(v)
	if !ok || seconds <= 0 || seconds > MAX_DELAY_SECONDS {
		return fmt.Errorf("parameter seconds should be a number in (0, %d]", MAX_DELAY_SECONDS)
	}
	return nil
}

// Execute waits for the configured duration. Cancellation of the execution
// ends the wait early.
func (d *delayAction) Execute(ctx context.Context, actx Context, params map[string]any) (Result, error) {
	seconds, ok := numberParam(params, "seconds")
	if !ok || seconds <= 0 || seconds > MAX_DELAY_SECONDS {
		return Result{}, fmt.Errorf("invalid delay %v", params["seconds"])
	}
	delay := time.Duration(seconds * float64(time.Second))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return Result{Summary: fmt.Sprintf("waited %s", delay)}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
