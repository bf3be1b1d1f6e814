package message

import (
	"encoding/json"
	"fmt"

	"github.com/c360/kernelkit/errors"
)

// Reply status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Stream names.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// ExecuteRequest asks the kernel to run a block of code.
type ExecuteRequest struct {
	Code         string `json:"code"`
	Silent       bool   `json:"silent"`
	StoreHistory bool   `json:"store_history"`
	AllowStdin   bool   `json:"allow_stdin"`
	StopOnError  bool   `json:"stop_on_error"`
}

// ExecuteReply is the shell reply closing an execute request. On error the
// Ename/Evalue/Traceback fields describe the failure.
type ExecuteReply struct {
	Status         string   `json:"status"`
	ExecutionCount int      `json:"execution_count"`
	Ename          string   `json:"ename,omitempty"`
	Evalue         string   `json:"evalue,omitempty"`
	Traceback      []string `json:"traceback,omitempty"`
}

// ExecuteInput echoes the code about to run and the execution count it
// will use, broadcast on iopub before evaluation starts.
type ExecuteInput struct {
	Code           string `json:"code"`
	ExecutionCount int    `json:"execution_count"`
}

// ExecuteResult carries the displayable value an evaluation produced,
// keyed by mimetype.
type ExecuteResult struct {
	ExecutionCount int            `json:"execution_count"`
	Data           map[string]any `json:"data"`
	Metadata       map[string]any `json:"metadata"`
}

// Stream is a chunk of captured stdout or stderr.
type Stream struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Status announces a kernel execution-state transition on iopub.
type Status struct {
	ExecutionState string `json:"execution_state"`
}

// Error is the iopub broadcast describing a failed evaluation.
type Error struct {
	Ename     string   `json:"ename"`
	Evalue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// InputRequest asks the client for a line of input mid-execution.
type InputRequest struct {
	Prompt   string `json:"prompt"`
	Password bool   `json:"password"`
}

// InputReply carries the client's answer to an InputRequest.
type InputReply struct {
	Value string `json:"value"`
}

// KernelInfoRequest asks for kernel identification; it has no fields.
type KernelInfoRequest struct{}

// LanguageInfo describes the language the evaluation engine runs.
type LanguageInfo struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	MimeType      string `json:"mimetype"`
	FileExtension string `json:"file_extension"`
}

// KernelInfoReply identifies the kernel implementation to clients.
type KernelInfoReply struct {
	Status                string       `json:"status"`
	ProtocolVersion       string       `json:"protocol_version"`
	Implementation        string       `json:"implementation"`
	ImplementationVersion string       `json:"implementation_version"`
	LanguageInfo          LanguageInfo `json:"language_info"`
	Banner                string       `json:"banner"`
}

// ShutdownRequest asks the kernel to stop; Restart indicates the client
// intends to start a fresh kernel afterwards.
type ShutdownRequest struct {
	Restart bool `json:"restart"`
}

// ShutdownReply acknowledges a shutdown request, echoing the restart flag.
type ShutdownReply struct {
	Status  string `json:"status"`
	Restart bool   `json:"restart"`
}

// InterruptRequest asks the kernel to abort the in-flight execution.
type InterruptRequest struct{}

// InterruptReply acknowledges an interrupt request.
type InterruptReply struct {
	Status string `json:"status"`
}

// DecodeContent interprets a raw content frame according to the message
// type tag. Unknown types decode into a generic map so that transport
// level handling (logging, dropping) still sees the payload.
func DecodeContent(msgType string, raw json.RawMessage) (any, error) {
	var content any
	switch msgType {
	case TypeExecuteRequest:
		content = &ExecuteRequest{}
	case TypeExecuteReply:
		content = &ExecuteReply{}
	case TypeExecuteInput:
		content = &ExecuteInput{}
	case TypeExecuteResult:
		content = &ExecuteResult{}
	case TypeStream:
		content = &Stream{}
	case TypeStatus:
		content = &Status{}
	case TypeError:
		content = &Error{}
	case TypeInputRequest:
		content = &InputRequest{}
	case TypeInputReply:
		content = &InputReply{}
	case TypeKernelInfoRequest:
		content = &KernelInfoRequest{}
	case TypeKernelInfoReply:
		content = &KernelInfoReply{}
	case TypeShutdownRequest:
		content = &ShutdownRequest{}
	case TypeShutdownReply:
		content = &ShutdownReply{}
	case TypeInterruptRequest:
		content = &InterruptRequest{}
	case TypeInterruptReply:
		content = &InterruptReply{}
	default:
		generic := map[string]any{}
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, errors.WrapInvalid(err, "message", "DecodeContent",
				fmt.Sprintf("generic content for %q", msgType))
		}
		return generic, nil
	}

	if err := json.Unmarshal(raw, content); err != nil {
		return nil, errors.WrapInvalid(err, "message", "DecodeContent",
			fmt.Sprintf("typed content for %q", msgType))
	}
	return content, nil
}
