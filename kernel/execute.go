package kernel

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/c360/kernelkit/eval"
	"github.com/c360/kernelkit/input"
	"github.com/c360/kernelkit/message"
	"github.com/c360/kernelkit/session"
	"github.com/c360/kernelkit/stream"
	"github.com/c360/kernelkit/transport"
)

// handleExecute drives one execute request through the state machine:
//
//	busy → execute_input → streams → [execute_result | error] → idle → reply
//
// The shell reply is sent only after the idle broadcast and after any
// result broadcast; clients rely on this order to know the channel has
// quiesced. The counter advances exactly once per accepted request
// regardless of outcome.
func (k *Kernel) handleExecute(ctx context.Context, msg *message.Message) {
	req, ok := msg.Content.(*message.ExecuteRequest)
	if !ok {
		k.logger.Error("execute_request with wrong content type")
		return
	}

	start := time.Now()
	if err := k.session.SetStatus(session.StatusBusy, msg); err != nil {
		k.logger.Warn("busy status broadcast failed", "error", err)
	}
	count := k.session.NextExecutionCount()

	var (
		failure  *message.Error
		result   *eval.Result
		artifact []byte
	)

	code, policy, err := stream.Rewrite(req.Code)
	if err != nil {
		// The request was accepted, so the iopub sequence still carries
		// execute_input even though nothing reaches the engine. The raw
		// code is echoed; there is no cleaned form to show.
		k.broadcastInput(msg, req, req.Code, count)
		failure = &message.Error{
			Ename:  "DirectiveError",
			Evalue: err.Error(),
		}
	} else {
		if policy != nil {
			k.setPolicy(*policy)
			k.logger.Info("output policy reconfigured",
				"max_buffer", policy.MaxBuffer, "max_time", policy.MaxTime)
		}

		execCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		k.setInterrupt(cancel)
		defer k.clearInterrupt()

		failure, result = k.evaluate(ctx, execCtx, msg, req, code, count)
	}

	if result != nil {
		artifact = result.Artifact
	}

	reply := &message.ExecuteReply{Status: message.StatusOK, ExecutionCount: count}
	if failure != nil {
		reply.Status = message.StatusError
		reply.Ename = failure.Ename
		reply.Evalue = failure.Evalue
		reply.Traceback = failure.Traceback

		// Broadcast the failure so all subscribers see it; the reply
		// channel only reaches the requester.
		if !req.Silent {
			if err := k.transport.Broadcast(msg.Publish(message.TypeError, failure)); err != nil {
				k.logger.Error("error broadcast failed", "error", err)
			}
		}
		if k.metrics != nil {
			k.metrics.executionsFailed.Inc()
		}
	}

	if err := k.session.SetStatus(session.StatusIdle, msg); err != nil {
		k.logger.Warn("idle status broadcast failed", "error", err)
	}

	replyMsg := msg.Reply(message.TypeExecuteReply, reply)
	if len(artifact) > 0 {
		// Opaque serialized session state for cross-request continuity.
		replyMsg.Metadata["artifact"] = base64.StdEncoding.EncodeToString(artifact)
	}
	if err := k.transport.Send(transport.ChannelShell, replyMsg); err != nil {
		k.logger.Error("execute reply failed", "error", err)
	}

	if k.metrics != nil {
		k.metrics.executions.Inc()
		k.metrics.executionDuration.Observe(time.Since(start).Seconds())
	}
}

// broadcastInput publishes the execute_input echo every accepted,
// non-silent request gets on iopub.
func (k *Kernel) broadcastInput(msg *message.Message, req *message.ExecuteRequest, code string, count int) {
	if req.Silent {
		return
	}
	err := k.transport.Broadcast(msg.Publish(message.TypeExecuteInput, &message.ExecuteInput{
		Code:           code,
		ExecutionCount: count,
	}))
	if err != nil {
		k.logger.Error("execute_input broadcast failed", "error", err)
	}
}

// evaluate runs the cleaned code through the engine with output and
// input wired in. execCtx is the cancellable execution context an
// interrupt aborts; ctx is the kernel's run context. It returns the
// failure to report, if any, plus the engine result.
func (k *Kernel) evaluate(
	ctx context.Context,
	execCtx context.Context,
	msg *message.Message,
	req *message.ExecuteRequest,
	code string,
	count int,
) (*message.Error, *eval.Result) {
	k.broadcastInput(msg, req, code, count)

	policy := k.currentPolicy()
	stdout := stream.NewWriter(message.StreamStdout, policy, k.publishStream(msg), k.logger)
	stderr := stream.NewWriter(message.StreamStderr, policy, k.publishStream(msg), k.logger)

	coord := input.New(input.Deps{
		Allowed: req.AllowStdin,
		Request: k.publishInputRequest(msg),
		Replies: k.stdinReplies,
		Logger:  k.logger,
	})

	result, evalErr := k.evaluator.Evaluate(execCtx, code, eval.IO{
		Stdout: stdout,
		Stderr: stderr,
		ReadInput: func(prompt string, password bool) (string, error) {
			return coord.RequestInput(execCtx, prompt, password)
		},
	})
	interrupted := execCtx.Err() != nil && ctx.Err() == nil

	// Remaining buffered output is flushed unconditionally before any
	// result broadcast and before the final reply.
	if err := stdout.Close(); err != nil {
		k.logger.Warn("stdout flush failed", "error", err)
	}
	if err := stderr.Close(); err != nil {
		k.logger.Warn("stderr flush failed", "error", err)
	}

	switch {
	case interrupted:
		return &message.Error{
			Ename:  "Interrupted",
			Evalue: "execution interrupted",
		}, result

	case evalErr != nil:
		return &message.Error{
			Ename:  "EvaluationError",
			Evalue: evalErr.Error(),
		}, result

	case result != nil && result.Failure != nil:
		return &message.Error{
			Ename:     result.Failure.Name,
			Evalue:    result.Failure.Value,
			Traceback: result.Failure.Traceback,
		}, result
	}

	// Success with a producible value: broadcast the rendered result.
	if result != nil && len(result.Data) > 0 && !req.Silent {
		err := k.transport.Broadcast(msg.Publish(message.TypeExecuteResult, &message.ExecuteResult{
			ExecutionCount: count,
			Data:           result.Data,
			Metadata:       result.Metadata,
		}))
		if err != nil {
			k.logger.Error("execute_result broadcast failed", "error", err)
		}
	}
	return nil, result
}

// publishStream returns the PublishFunc wiring a stream writer to iopub
// with msg as the causing request.
func (k *Kernel) publishStream(msg *message.Message) stream.PublishFunc {
	return func(name, text string) error {
		return k.transport.Broadcast(msg.Publish(message.TypeStream, &message.Stream{
			Name: name,
			Text: text,
		}))
	}
}

// publishInputRequest returns the RequestFunc publishing input_request
// on the stdin channel, addressed with the originating request's routing
// identities.
func (k *Kernel) publishInputRequest(msg *message.Message) input.RequestFunc {
	return func(prompt string, password bool) error {
		return k.transport.Send(transport.ChannelStdin,
			msg.Reply(message.TypeInputRequest, &message.InputRequest{
				Prompt:   prompt,
				Password: password,
			}))
	}
}
