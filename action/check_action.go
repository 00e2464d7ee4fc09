package action

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mlodash/autoflow/model"
	"github.com/oliveagle/jsonpath"
)

var _ Action = new(checkAction)

// checkAction guards the rest of a workflow. It evaluates a jsonpath
// expression such as $.trigger.loanType against the execution data and fails
// the step unless the value matches one of the expected cases. The expression
// is written without braces so parameter templating leaves it alone.
type checkAction struct{}

func (d *checkAction) Kind() model.ActionKind { return model.ACTION_CHECK }

func (d *checkAction) Validate(params map[string]any) error {
	if err := requireString(params, "expression"); err != nil {
		return err
	}
	expression := strings.TrimSpace(params["expression"].(string))
	if !strings.HasPrefix(expression, "$") {
		return fmt.Errorf("expression should start with $")
	}
	if _, err := jsonpath.Compile(expression); err != nil {
		return fmt.Errorf("expression should be a valid jsonpath expression")
	}
	cases, ok := params["in"].([]any)
	if !ok || len(cases) == 0 {
		return fmt.Errorf("check action should have at least one expected value in parameter in")
	}
	return nil
}

func (d *checkAction) Execute(ctx context.Context, actx Context, params map[string]any) (Result, error) {
	expression := stringParam(params, "expression")
	value, err := jsonpath.JsonPathLookup(actx.data(), expression)
	if err != nil {
		return Result{}, fmt.Errorf("expression %s did not resolve: %w", expression, err)
	}
	actual := caseKey(value)
	cases, _ := params["in"].([]any)
	for _, c := range cases {
		if caseKey(c) == actual {
			return Result{Summary: fmt.Sprintf("%s matched %s", expression, actual)}, nil
		}
	}
	return Result{}, fmt.Errorf("%s is %s, expected one of %v", expression, actual, cases)
}

func caseKey(v any) string {
	switch value := v.(type) {
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		if value == float64(int64(value)) {
			return strconv.FormatInt(int64(value), 10)
		}
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	case string:
		return value
	case nil:
		return "null"
	}
	return fmt.Sprintf("%v", v)
}
