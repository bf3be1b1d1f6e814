// Package eval defines the boundary between the protocol core and the
// embedded evaluation engine. The engine is a black box: it accepts
// source text plus prior session state and returns a displayable value,
// a failure, or neither. KernelKit never inspects language semantics.
package eval

import (
	"context"
	"io"
)

// ReadInputFunc fetches one line of input from the client on behalf of
// running code. It blocks the evaluation until the reply arrives.
type ReadInputFunc func(prompt string, password bool) (string, error)

// IO is the per-execution wiring handed to the engine: where its output
// streams go and how it obtains user input.
type IO struct {
	Stdout    io.Writer
	Stderr    io.Writer
	ReadInput ReadInputFunc
}

// Failure describes code that failed to compile or run.
type Failure struct {
	// Name is the error class shown to the client, e.g. an exception
	// type name.
	Name      string
	Value     string
	Traceback []string
}

// Result is the outcome of evaluating one code block.
type Result struct {
	// Data maps mimetypes to rendered values. Empty when the code
	// produced no displayable value.
	Data map[string]any

	// Metadata accompanies Data in the execute_result broadcast.
	Metadata map[string]any

	// Artifact is the engine's opaque serialized session state for
	// cross-request continuity. It is attached to reply metadata and
	// never interpreted by the core.
	Artifact []byte

	// Failure is non-nil when the code itself failed. Engine-level
	// problems are returned as errors from Evaluate instead.
	Failure *Failure
}

// Evaluator is the embedded read-eval engine. Evaluate runs one code
// block with the given IO wiring; the context is cancelled when the
// client interrupts the execution. Implementations are called from a
// single goroutine at a time.
type Evaluator interface {
	Evaluate(ctx context.Context, code string, io IO) (*Result, error)
}

// ArtifactCodec is the opaque serialize/deserialize service for compiled
// session artifacts. The core stores and forwards blobs and identifiers
// without inspecting them.
type ArtifactCodec interface {
	// Serialize snapshots the session's artifacts into a blob.
	Serialize(ctx context.Context, sessionID string) ([]byte, error)

	// Deserialize restores a blob into targetDir and returns the
	// identifiers of the loadable units it contained.
	Deserialize(ctx context.Context, blob []byte, targetDir string) ([]string, error)
}

// Info identifies the engine to clients via kernel_info_reply.
type Info struct {
	Implementation  string
	Version         string
	LanguageName    string
	LanguageVersion string
	MimeType        string
	FileExtension   string
	Banner          string
}
