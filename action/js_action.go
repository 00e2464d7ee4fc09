package action

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
	"github.com/mlodash/autoflow/model"
)

const MAX_SUMMARY_LENGTH = 200

var _ Action = new(scriptAction)

// scriptAction evaluates JavaScript with $ bound to the execution context
// (trigger payload plus execution metadata).
type scriptAction struct{}

func (s *scriptAction) Kind() model.ActionKind { return model.ACTION_SCRIPT }

func (s *scriptAction) Validate(params map[string]any) error {
	if err := requireString(params, "source"); err != nil {
		return err
	}
	if _, err := goja.Compile("script", params["source"].(string), true); err != nil {
		return fmt.Errorf("source does not compile: %w", err)
	}
	return nil
}

func (s *scriptAction) Execute(ctx context.Context, actx Context, params map[string]any) (Result, error) {
	source := stringParam(params, "source")
	program, err := goja.Compile("script", source, true)
	if err != nil {
		return Result{}, fmt.Errorf("error compiling javascript %w", err)
	}
	vm := goja.New()
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt("execution cancelled")
	})
	defer stop()

	if err := vm.Set("$", actx.data()); err != nil {
		return Result{}, err
	}
	val, err := vm.RunProgram(program)
	if err != nil {
		return Result{}, fmt.Errorf("error executing javascript %w", err)
	}
	var exported any
	if val != nil && !goja.IsUndefined(val) && !goja.IsNull(val) {
		exported = val.Export()
	}
	summary, err := json.Marshal(exported)
	if err != nil {
		return Result{}, fmt.Errorf("script result is not serializable %w", err)
	}
	text := string(summary)
	if len(text) > MAX_SUMMARY_LENGTH {
		text = text[:MAX_SUMMARY_LENGTH] + "..."
	}
	return Result{
		Summary: "script returned " + text,
		Output:  map[string]any{"result": exported},
	}, nil
}
