package harness

// TraceEvent records the outcome of one step.
type TraceEvent struct {
	Step  int    `json:"step"`
	Op    string `json:"op"`
	Model string `json:"model"`
	// IDs are the ids the step produced or returned.
	IDs []int64 `json:"ids,omitempty"`
	// Rows are the rows returned by read.
	Rows []map[string]interface{} `json:"rows,omitempty"`
	// Error is the code of the error the step failed with.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every step met its expectations.
	Pass bool `json:"pass"`

	// Trace contains one event per executed step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains the failed expectations.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Aliases maps the aliases bound by the scenario to their ids.
	Aliases map[string]int64 `json:"aliases,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Aliases: make(map[string]int64),
	}
}

// AddError adds a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends the outcome of a step.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
