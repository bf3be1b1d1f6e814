// Package kernelkit is the protocol and execution core of an interactive
// notebook kernel. It speaks the Jupyter wire protocol over five ZeroMQ
// channels and drives a pluggable read-eval-print engine, streaming results,
// status transitions and captured output back to notebook front-ends in
// strict protocol order.
//
// # Architecture
//
// KernelKit separates the transport, the protocol state machine and the
// evaluation engine:
//
//	┌─────────────────────────────────────┐
//	│         Execution Dispatcher        │  kernel: state machine,
//	│   (busy/idle, counter, ordering)    │  control + shell loops
//	└─────────────────────────────────────┘
//	           ↓ drives
//	┌─────────────────────────────────────┐
//	│        Evaluation Engine            │  eval: embedder-supplied,
//	│  (black box: code in, value out)    │  output + input wired in
//	└─────────────────────────────────────┘
//	           ↕ communicates via
//	┌─────────────────────────────────────┐
//	│        Channel Transport            │  transport: shell, control,
//	│  (five ZeroMQ sockets, signed)      │  stdin, iopub, heartbeat
//	└─────────────────────────────────────┘
//
// # Packages
//
// Protocol:
//   - message: signed multi-frame envelopes, typed message contents
//   - transport: the five-socket ZeroMQ topology and heartbeat loop
//   - session: execution counter and externally observable kernel status
//
// Execution:
//   - kernel: the execute-request state machine and channel loops
//   - stream: stdout/stderr capture with immediate or buffered flushing
//   - input: the blocking input_request/input_reply round trip
//   - eval: the evaluation-engine boundary consumed by the dispatcher
//
// Infrastructure:
//   - config: connection file and kernel options loading
//   - errors: structured error handling and classification
//   - metric: Prometheus metrics registry
//   - testutil: fakes and helpers shared by package tests
//
// # Ordering guarantees
//
// For every execute request the iopub channel observes exactly:
// status(busy), execute_input, zero or more stream messages, an optional
// execute_result, status(idle) - and the shell execute_reply is sent only
// after the idle broadcast. Clients rely on this order to know the channel
// has quiesced; all dispatcher code preserves it.
//
// # Embedding
//
// Embedders implement eval.Evaluator, load a connection file and run the
// kernel:
//
//	conn, _ := config.LoadConnection(path)
//	codec, _ := message.NewCodec([]byte(conn.Key), conn.SignatureScheme)
//	t := transport.New(transport.Deps{Conn: conn, Codec: codec})
//	sess := session.New(session.Deps{Broadcast: t.Broadcast})
//	k := kernel.New(kernel.Deps{Transport: t, Session: sess, Evaluator: myEngine})
//	k.Run(ctx)
//
// See cmd/kernelkit for a complete wiring example.
package kernelkit
