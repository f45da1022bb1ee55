// Package protocol defines the bidirectional JSON-line wire format between
// the parent process and a worker process: the task payload written to the
// worker's stdin, and the worker event stream read from its stdout.
//
// Encoding/decoding goes through goccy/go-json, a drop-in encoding/json
// replacement, since every OUTPUT event on a streamed task's hot path is
// marshaled/unmarshaled here.
package protocol

import (
	json "github.com/goccy/go-json"
)

// Status is one worker event's status field.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusOutput    Status = "OUTPUT"
	StatusCompleted Status = "COMPLETED"
	StatusError     Status = "ERROR"
	StatusTimeout   Status = "TIMEOUT"
)

// TaskPayload is written by the parent to the worker's stdin as a single
// newline-terminated JSON line.
type TaskPayload struct {
	TaskID              string `json:"task_id"`
	StatusFile          string `json:"status_file,omitempty"`
	SerializedCallback  string `json:"serialized_callback"`
	Context             string `json:"context,omitempty"`
	AutoloadPath        string `json:"autoload_path,omitempty"`
	FrameworkBootstrap  string `json:"framework_bootstrap,omitempty"`
	FrameworkInitCode   string `json:"framework_init_code,omitempty"`
	LoggingEnabled      bool   `json:"logging_enabled"`
	TimeoutSeconds      int    `json:"timeout_seconds"`
	MemoryLimit         string `json:"memory_limit,omitempty"`
}

// Event is one line of the worker's stdout stream. Only the fields
// relevant to Status are populated; consumers must dispatch on Status and
// ignore unrecognized values per §6 ("Clients MUST ignore unknown event
// types").
type Event struct {
	Status Status `json:"status"`

	// OUTPUT
	Output string `json:"output,omitempty"`

	// COMPLETED
	Result           json.RawMessage `json:"result,omitempty"`
	ResultSerialized bool            `json:"result_serialized,omitempty"`

	// ERROR / TIMEOUT
	Class      string `json:"class,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       int    `json:"code,omitempty"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// Marshal encodes v compactly with a trailing newline, ready to write to a
// pipe.
func Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Unmarshal decodes a single line into v.
func Unmarshal(line []byte, v any) error {
	return json.Unmarshal(line, v)
}
