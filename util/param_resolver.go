package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenPattern = regexp.MustCompile("{(.*?)}")

// ResolveParams replaces {$.path} tokens in string values with values looked
// up in data. A string made of a single token keeps the looked up type.
func ResolveParams(data map[string]any, params map[string]any) map[string]any {
	output := make(map[string]any, len(params))
	resolveParams(data, params, output)
	return output
}

func resolveParams(data map[string]any, params map[string]any, output map[string]any) {
	for k, v := range params {
		switch val := v.(type) {
		case map[string]any:
			out := make(map[string]any)
			output[k] = out
			resolveParams(data, val, out)
		case string:
			output[k] = resolveString(data, val)
		case []any:
			output[k] = resolveList(data, val)
		default:
			output[k] = v
		}
	}
}

func resolveList(data map[string]any, list []any) []any {
	output := make([]any, 0, len(list))
	for _, v := range list {
		switch val := v.(type) {
		case map[string]any:
			out := make(map[string]any)
			resolveParams(data, val, out)
			output = append(output, out)
		case string:
			output = append(output, resolveString(data, val))
		case []any:
			output = append(output, resolveList(data, val))
		default:
			output = append(output, v)
		}
	}
	return output
}

func resolveString(data map[string]any, s string) any {
	tokens := tokenPattern.FindAllString(s, -1)
	if len(tokens) == 0 {
		return s
	}
	if len(tokens) == 1 && tokens[0] == s {
		if value, ok := Lookup(data, strings.Trim(s, "{}")); ok {
			return value
		}
		return s
	}
	out := s
	for _, token := range tokens {
		if value, ok := Lookup(data, strings.Trim(token, "{}")); ok {
			out = strings.ReplaceAll(out, token, fmt.Sprintf("%v", value))
		}
	}
	return out
}

// Lookup evaluates a jsonpath expression such as $.trigger.clientId.
func Lookup(data map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "$") {
		return nil, false
	}
	value, err := jsonpath.JsonPathLookup(data, path)
	if err != nil || value == nil {
		return nil, false
	}
	return value, true
}

func ValidPath(path string) bool {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "$") {
		return false
	}
	_, err := jsonpath.Compile(path)
	return err == nil
}
