package monitor

import (
	"encoding/json"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/rvallejo/forq/internal/job"
)

// celFilter wraps a compiled CEL program evaluated per job snapshot. When
// disabled, Match always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("name", cel.StringType),
		cel.Variable("state", cel.StringType),
		cel.Variable("attempt", cel.IntType),
		cel.Variable("max_attempts", cel.IntType),
		cel.Variable("last_error", cel.StringType),
		// Age since enqueue in ms, for windowed filters
		cel.Variable("age_ms", cel.IntType),
		// Parsed JSON payload (map/list/values) for field filtering
		cel.Variable("payload", cel.DynType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Match evaluates the compiled expression against a job snapshot. When
// disabled, returns true. Evaluation errors exclude the job rather than fail
// the listing.
func (f celFilter) Match(j *job.Job, nowMs int64) bool {
	if !f.enabled {
		return true
	}
	var payload any
	_ = json.Unmarshal(j.Payload, &payload)
	age := nowMs - j.EnqueuedAtMs
	if age < 0 {
		age = 0
	}
	out, _, err := f.prog.Eval(map[string]any{
		"id":           j.ID,
		"name":         j.Name,
		"state":        string(j.State),
		"attempt":      int64(j.Attempt),
		"max_attempts": int64(j.MaxAttempts),
		"last_error":   j.LastError,
		"age_ms":       age,
		"payload":      payload,
		"now_ms":       nowMs,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
