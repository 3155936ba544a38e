// Package pipeline implements the tool invocation pipeline (component
// G): payload size, schema validation, slot acquisition, context
// construction, timeout, cancellation, and outcome classification.
//
// The timeout race is grounded on commbus/bus.go's QuerySync, which
// starts a context.WithTimeout, runs the handler in a goroutine feeding
// a buffered result channel, and selects between the timeout and the
// result. Each branch of that race sets the outcome and ends (or hands
// off) the tracing span itself; the pipeline records no metrics.
package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/mcp-runtime/errs"
	"github.com/jeeves-cluster-organization/mcp-runtime/idgen"
	"github.com/jeeves-cluster-organization/mcp-runtime/logging"
	"github.com/jeeves-cluster-organization/mcp-runtime/resources"
	"github.com/jeeves-cluster-organization/mcp-runtime/tools"
)

var tracer = otel.Tracer("mcp-runtime/pipeline")

// Outcome is the closed set of tool-invocation outcomes from 4.A.
type Outcome string

const (
	Success              Outcome = "success"
	ToolError             Outcome = "tool_error"
	TimeoutOutcome         Outcome = "timeout"
	LateCompleted          Outcome = "late_completed"
	Aborted                Outcome = "aborted"
	DisconnectedCompleted  Outcome = "disconnected_completed"
	ProtocolError          Outcome = "protocol_error"
)

// CallRequest is a tools/call request's relevant fields.
type CallRequest struct {
	Name          string
	Arguments     any // must be map[string]any, nil, or an object-shaped JSON value
	CorrelationID string
}

// CallResponse is either a JSON-RPC-level error (method not found,
// invalid argument shape) or a tool result/tool-error content body.
type CallResponse struct {
	RPCError    *errs.JSONRPCError
	ToolContent *errs.ToolErrorContent
	Result      map[string]any
	IsError     bool
	Outcome     Outcome
}

// Pipeline wires the registry, resource manager, id generator, and
// logger together per 4.G.
type Pipeline struct {
	Registry       *tools.Registry
	Resources      *resources.Manager
	IDs            idgen.Generator
	Logger         logging.Logger
	DefaultTimeout time.Duration
}

type handlerOutcome struct {
	result map[string]any
	err    error
}

// Call runs the full 4.G contract. ctx is the connection-scoped context;
// its cancellation models "connection closes during execution."
func (p *Pipeline) Call(ctx context.Context, req CallRequest, rpcID any) *CallResponse {
	// Step 1: method-not-found.
	_, handler, ok := p.Registry.Get(req.Name)
	if !ok {
		return &CallResponse{
			Outcome: ProtocolError,
			RPCError: errs.ToJSONRPCError(errs.RPCMethodNotFound, "Method not found",
				map[string]any{"code": string(errs.NotFound), "message": "unknown tool " + req.Name, "correlationId": req.CorrelationID}, rpcID),
		}
	}

	// Step 2: arguments shape.
	arguments, shapeErr := normalizeArguments(req.Arguments)
	if shapeErr != nil {
		return &CallResponse{
			Outcome: ProtocolError,
			RPCError: errs.ToJSONRPCError(errs.RPCInvalidParams, "Invalid params",
				map[string]any{"code": string(errs.InvalidArgument), "message": shapeErr.Message, "correlationId": req.CorrelationID}, rpcID),
		}
	}

	// Step 3: precompiled validation.
	if verr := p.Registry.Validate(req.Name, arguments); verr != nil {
		return p.toolErrorResponse(verr, req.CorrelationID, "")
	}

	// Step 4: payload size.
	if perr := p.Resources.ValidatePayloadSize(arguments); perr != nil {
		return p.toolErrorResponse(perr, req.CorrelationID, "")
	}

	// Step 5: admission.
	slot, aerr := p.Resources.TryAcquireSlot()
	if aerr != nil {
		return p.toolErrorResponse(aerr, req.CorrelationID, "")
	}

	// Step 6: context construction.
	runID := p.IDs.NewRunID()
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = p.IDs.NewCorrelationID()
	}
	childLogger := p.Logger.Bind("runId", runID, "correlationId", correlationID, "tool", req.Name)

	handlerCtx, cancel := context.WithCancel(ctx)

	spanCtx, span := tracer.Start(handlerCtx, "tools/call", trace.WithAttributes(
		attribute.String("tool.name", req.Name),
		attribute.String("run.id", runID),
	))

	// Step 7: execution, racing the handler against the timeout.
	resultCh := make(chan handlerOutcome, 1)
	go func() {
		res, err := handler(spanCtx, arguments)
		resultCh <- handlerOutcome{result: res, err: err}
	}()

	timeout := p.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)

	select {
	case hr := <-resultCh:
		timer.Stop()
		cancel()
		slot.Release()
		if hr.err != nil {
			span.RecordError(hr.err)
			span.SetStatus(codes.Error, hr.err.Error())
			span.End()
			return p.toolErrorResponse(errs.FromError(hr.err), correlationID, runID)
		}
		span.SetStatus(codes.Ok, "")
		span.End()
		return &CallResponse{Outcome: Success, Result: hr.result, IsError: false}

	case <-timer.C:
		cancel() // fire the abort signal; handler must observe it cooperatively
		childLogger.Warn("tool invocation timed out", "defaultTimeoutMs", timeout.Milliseconds())
		span.SetStatus(codes.Error, "timeout")
		go p.finishLate(resultCh, slot, childLogger, span)
		return p.toolErrorResponse(errs.Timeoutf("tool %q exceeded %s", req.Name, timeout), correlationID, runID)

	case <-ctx.Done():
		cancel()
		childLogger.Warn("connection closed during tool invocation")
		span.SetStatus(codes.Error, "disconnected")
		timer.Stop()
		go p.finishDisconnected(resultCh, slot, childLogger, span)
		return &CallResponse{Outcome: Aborted}
	}
}

// finishLate waits for a handler that outlived its timeout. The slot is
// held until this resolves -- it is released exactly once here -- and a
// warn log records the late outcome; no result is delivered to the
// caller since the error response was already emitted.
func (p *Pipeline) finishLate(resultCh <-chan handlerOutcome, slot *resources.Slot, logger logging.Logger, span trace.Span) {
	hr := <-resultCh
	slot.Release()
	defer span.End()
	if hr.err != nil {
		logger.Warn("late_completed handler failed after timeout response was sent", "outcome", string(ToolError))
		return
	}
	logger.Warn("late handler completed after timeout response was sent", "outcome", string(LateCompleted))
}

func (p *Pipeline) finishDisconnected(resultCh <-chan handlerOutcome, slot *resources.Slot, logger logging.Logger, span trace.Span) {
	<-resultCh
	slot.Release()
	span.End()
	logger.Warn("handler settled after connection disconnect", "outcome", string(DisconnectedCompleted))
}

func (p *Pipeline) toolErrorResponse(structured *errs.Error, correlationID, runID string) *CallResponse {
	return &CallResponse{
		Outcome:     ToolError,
		IsError:     true,
		ToolContent: errs.ToToolError(structured, correlationID, runID),
	}
}

// normalizeArguments implements step 2: nil/omitted become {}; objects
// pass through; anything else (array, primitive) is rejected.
func normalizeArguments(raw any) (map[string]any, *errs.Error) {
	if raw == nil {
		return map[string]any{}, nil
	}
	if m, ok := raw.(map[string]any); ok {
		return m, nil
	}
	return nil, errs.InvalidArgumentf("arguments must be an object")
}
