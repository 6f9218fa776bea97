// Package task defines the decoded task-delivery record that flows from
// the broker, through the Consumer's classifiers, to the ready queue or
// the ETA timer.
package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Request carries the retry bookkeeping a broker delivery attaches to a
// task, mirroring Celery's request_dict.
type Request struct {
	Retries int `json:"retries"`
}

// Task is a decoded task invocation ready for routing to a Strategy.
type Task struct {
	ID      string         `json:"id"`
	Name    string         `json:"task"`
	Args    []any          `json:"args"`
	Kwargs  map[string]any `json:"kwargs"`
	ETA     *time.Time     `json:"eta,omitempty"`
	Expires *time.Time     `json:"expires,omitempty"`
	Request Request        `json:"request"`

	// revokedFn is consulted by Revoked; nil means never revoked.
	// Installed with SetRevokedFunc, which lets tests control revocation
	// without a real revoked-task registry.
	revokedFn func(id string) bool

	// ackFn/rejectFn are installed by New or SetAckCallbacks; Acknowledge
	// and Reject delegate to them.
	ackFn    func() error
	rejectFn func() error
}

// New constructs a Task and wires its acknowledgement callbacks. The
// dispatch path does not use it (it calls Decode and then
// SetAckCallbacks); it serves callers that build a Task directly.
func New(id, name string, args []any, kwargs map[string]any, ack, reject func() error) *Task {
	return &Task{
		ID:       id,
		Name:     name,
		Args:     args,
		Kwargs:   kwargs,
		ackFn:    ack,
		rejectFn: reject,
	}
}

// SetRevokedFunc installs the predicate Revoked consults.
func (t *Task) SetRevokedFunc(fn func(id string) bool) { t.revokedFn = fn }

// SetAckCallbacks wires this task to the broker delivery it was decoded
// from. Called by the dispatch path once a Task has cleared
// classification, never by Decode itself (Decode has no broker to talk
// to).
func (t *Task) SetAckCallbacks(ack, reject func() error) {
	t.ackFn, t.rejectFn = ack, reject
}

// Revoked reports whether this task's id has been revoked out of band.
func (t *Task) Revoked() bool {
	if t.revokedFn == nil {
		return false
	}
	return t.revokedFn(t.ID)
}

// Acknowledge sends a positive ack to the broker for this delivery.
func (t *Task) Acknowledge() error {
	if t.ackFn == nil {
		return nil
	}
	return t.ackFn()
}

// Reject sends a negative ack (reject) to the broker for this delivery.
func (t *Task) Reject() error {
	if t.rejectFn == nil {
		return nil
	}
	return t.rejectFn()
}

// Retries returns the request-dict retry counter, defaulting to 0.
func (t *Task) Retries() int { return t.Request.Retries }

// SafeInfo renders a redacted view of the task suitable for error logs —
// args/kwargs are summarized by length rather than printed verbatim.
func (t *Task) SafeInfo() string {
	return fmt.Sprintf("<Task %s(%s) id=%s nargs=%d nkwargs=%d>",
		t.Name, t.ID, t.ID, len(t.Args), len(t.Kwargs))
}

func (t *Task) String() string {
	return fmt.Sprintf("%s[%s]", t.Name, t.ID)
}

// rawEnvelope is the wire shape decoded from a delivery body.
type rawEnvelope struct {
	ID      string         `json:"id"`
	Task    string         `json:"task"`
	Args    []any          `json:"args"`
	Kwargs  map[string]any `json:"kwargs"`
	ETA     *time.Time     `json:"eta,omitempty"`
	Expires *time.Time     `json:"expires,omitempty"`
	Retries int            `json:"retries"`
}

// ErrMalformed is returned by Decode when the body cannot be parsed by
// the configured codec at all (spec §4.3 step 1, §7 "Decode errors").
var ErrMalformed = fmt.Errorf("task: message body could not be decoded")

// ErrUnknownFormat is returned by Decode when the body parses as JSON
// but isn't an object at all — an entirely unrecognised shape (spec
// §4.3 step 4, §7 "Unknown message").
var ErrUnknownFormat = fmt.Errorf("task: message body is not a recognised task envelope")

// ErrInvalidTask is returned by Decode when the body is a JSON object
// but is missing required structure (no task name) (spec §4.3 step 3,
// §7 "Invalid task").
var ErrInvalidTask = fmt.Errorf("task: message body is missing a task name")

// Decode parses a delivery body into a Task skeleton (without ack
// callbacks — SetAckCallbacks wires those in once the caller has
// classified the message). Returns, in order of precedence:
// ErrMalformed wrapping the underlying JSON error for bodies that don't
// parse at all; ErrUnknownFormat for bodies that parse but aren't a
// JSON object; ErrInvalidTask for objects missing a task name.
func Decode(body []byte) (*Task, error) {
	var probe any
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, ok := probe.(map[string]any); !ok {
		return nil, ErrUnknownFormat
	}

	var env rawEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Task == "" {
		return nil, ErrInvalidTask
	}
	id := env.ID
	if id == "" {
		// Celery clients always set an id; this only covers a
		// misbehaving producer, so a random id is enough to make the
		// task traceable rather than rejecting an otherwise-valid body.
		id = uuid.NewString()
	}
	return &Task{
		ID:      id,
		Name:    env.Task,
		Args:    env.Args,
		Kwargs:  env.Kwargs,
		ETA:     env.ETA,
		Expires: env.Expires,
		Request: Request{Retries: env.Retries},
	}, nil
}
