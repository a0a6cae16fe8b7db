package engine

import (
	"context"
	"encoding/json"

	"github.com/docforge/docforge/constants"
)

// Result is what a successful engine run produces. OutputRef points at the
// output artifact when the engine writes one; Fields carries engine-specific
// metadata (compression ratio, page count, extracted fields).
type Result struct {
	OutputRef string
	Fields    map[string]any
}

// JSON flattens the result into the payload recorded on the job row.
// OutputRef is stored under the reserved "output_ref" key.
func (r *Result) JSON() (json.RawMessage, error) {
	m := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		m[k] = v
	}
	if r.OutputRef != "" {
		m["output_ref"] = r.OutputRef
	}
	return json.Marshal(m)
}

// OutputRef reads the "output_ref" key back out of a recorded result
// payload, or "" when absent. The sweeper uses it to locate artifacts.
func OutputRef(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var m struct {
		OutputRef string `json:"output_ref"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	return m.OutputRef
}

// Engine runs one unit of document processing. Implementations are pure with
// respect to job state: input in, output or classified error out.
type Engine interface {
	Run(ctx context.Context, inputRef string, options json.RawMessage) (*Result, error)
}

// Registry maps job types to their engines.
type Registry struct {
	engines map[constants.JobType]Engine
}

func NewRegistry() *Registry {
	return &Registry{engines: make(map[constants.JobType]Engine)}
}

func (r *Registry) Register(t constants.JobType, e Engine) {
	r.engines[t] = e
}

// Resolve returns the engine for a job type. A missing engine is an
// environment failure: the deployment lacks a processor it advertises.
func (r *Registry) Resolve(t constants.JobType) (Engine, error) {
	e, ok := r.engines[t]
	if !ok {
		return nil, NewError(ClassEnvironment, "no engine registered for job type %q", t)
	}
	return e, nil
}
