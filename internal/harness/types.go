package harness

// Trace event types.
const (
	TraceTransition = "transition"
	TraceQueued     = "queued"
	TraceRequest    = "request"
	TraceCallback   = "callback"
	TraceRestart    = "restart"
)

// TraceEvent is one observable step of a scenario run.
// Fields not relevant to Type are left empty.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`

	// Transition and queued events.
	Event     string `json:"event,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	FromQueue bool   `json:"from_queue,omitempty"`

	// Queued and restart events.
	State string `json:"state,omitempty"`

	// Request events.
	Request string `json:"request,omitempty"`
	Device  string `json:"device,omitempty"`

	// Callback events. Error is empty on success.
	Callback string `json:"callback,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace lists every transition, enqueue, request and callback in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final is the machine and device after the flow.
	Final FinalState `json:"final"`
}

// FinalState is the observable state after a run.
type FinalState struct {
	State             string `json:"state"`
	Pending           int    `json:"pending"`
	UpdateToken       string `json:"update_token,omitempty"`
	RegistrationToken string `json:"registration_token,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
