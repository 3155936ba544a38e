// Package rpc implements the line-delimited JSON-RPC 2.0 framing and
// dispatcher (component M): one JSON object per line on the protocol
// stream, structural validation, the initialization gate, method
// routing, and correlationId enrichment on every error response.
//
// The line-reader loop is grounded on commbus/bus.go's goroutine-plus-
// channel dispatch shape, generalized from an in-process pub/sub bus to
// a bufio.Scanner reading framed requests off an io.Reader. The
// graceful-shutdown race (stop signal vs in-flight drain) reuses the
// idiom preserved from the deleted coreengine/grpc.GracefulServer, also
// used by session.Close.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/jeeves-cluster-organization/mcp-runtime/errs"
	"github.com/jeeves-cluster-organization/mcp-runtime/logging"
	"github.com/jeeves-cluster-organization/mcp-runtime/pipeline"
	"github.com/jeeves-cluster-organization/mcp-runtime/session"
	"github.com/jeeves-cluster-organization/mcp-runtime/tools"
)

// Request is the normative JSON-RPC 2.0 request/notification shape.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type requestMeta struct {
	Meta struct {
		CorrelationID string `json:"correlationId"`
	} `json:"_meta"`
}

// isNotification reports whether the request carries no id (the
// structural check treats id-presence as the request/notification
// discriminator).
func (r Request) isNotification() bool { return r.ID == nil }

// AdminGate is the narrow surface the dispatcher needs from the admin
// policy gate (component Q) to authorize dynamic register/unregister;
// nil disables those methods entirely ("admin register/unregister...
// optional").
type AdminGate interface {
	AuthorizeRegister(transport session.Transport) *errs.Error
	Register(def tools.Definition, toolType string, schemaJSON json.RawMessage) *errs.Error
	Unregister(name string) (bool, *errs.Error)
}

// InitializeInfo sources the `initialize` response.
type InitializeInfo struct {
	ProtocolVersion string
	ServerName      string
	ServerVersion   string
	Capabilities    map[string]any
}

// Dispatcher wires the session gate, tool registry, and invocation
// pipeline into the 4.M routing table. RegisterMethod lets callers add
// extra routes without the dispatcher importing their packages, keeping
// the dependency direction one-way (rpc depends on nothing above it).
type Dispatcher struct {
	Session  *session.Session
	Pipeline *pipeline.Pipeline
	Registry *tools.Registry
	Init     InitializeInfo
	Admin    AdminGate
	Logger   logging.Logger

	mu      sync.RWMutex
	methods map[string]MethodHandler
}

// MethodHandler handles one routed method, given its raw params and the
// enclosing request's correlationId. Returning (nil, nil) signals a
// notification with no response to emit.
type MethodHandler func(ctx context.Context, params json.RawMessage, correlationID string, id any) (any, *errs.Error)

// RegisterMethod adds an extra route. Built-in methods cannot be
// overridden: HandleLine consults the built-in table first.
func (d *Dispatcher) RegisterMethod(name string, handler MethodHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.methods == nil {
		d.methods = make(map[string]MethodHandler)
	}
	d.methods[name] = handler
}

// HandleLine implements steps 1-6 of 4.M for a single framed line. It
// never returns an error for malformed input -- malformed input is
// reported as a JSON-RPC error response instead -- and returns
// (nil, false) only for well-formed notifications, which emit nothing.
func (d *Dispatcher) HandleLine(ctx context.Context, line []byte) (any, bool) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return d.enrichedError(errs.RPCParseError, "Parse error", nil, nil, ""), true
	}

	if structErr := checkStructure(req, line); structErr != nil {
		return d.enrichedError(errs.RPCInvalidRequest, "Invalid Request",
			map[string]any{"reason": structErr.Error()}, req.ID, extractCorrelationID(req.Params)), true
	}

	correlationID := extractCorrelationID(req.Params)

	if gateErr := d.Session.CheckGate(req.Method, correlationID); gateErr != nil {
		code, _ := errs.RPCCodeFor(gateErr.Code)
		return d.enrichedError(code, gateErr.Message, gateErr.Data, req.ID, correlationID), true
	}

	handler, ok := d.builtinHandler(req.Method)
	if !ok {
		d.mu.RLock()
		handler, ok = d.methods[req.Method]
		d.mu.RUnlock()
	}
	if !ok {
		return d.enrichedError(errs.RPCMethodNotFound, "Method not found", nil, req.ID, correlationID), true
	}

	result, herr := handler(ctx, req.Params, correlationID, req.ID)
	if req.isNotification() {
		return nil, false
	}
	if herr != nil {
		code := errs.RPCInternal
		if raw, ok := herr.Data["rpcCode"].(int); ok {
			code = raw
		} else if mapped, hasCode := errs.RPCCodeFor(herr.Code); hasCode {
			code = mapped
		}
		return d.enrichedError(code, herr.Message, herr.Data, req.ID, correlationID), true
	}
	return Response{JSONRPC: "2.0", ID: req.ID, Result: result}, true
}

// Response is the normative success envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result"`
}

func (d *Dispatcher) enrichedError(code int, message string, data map[string]any, id any, correlationID string) *errs.JSONRPCError {
	merged := make(map[string]any, len(data)+1)
	for k, v := range data {
		merged[k] = v
	}
	delete(merged, "rpcCode")
	if _, exists := merged["correlationId"]; !exists {
		if correlationID == "" {
			correlationID = d.Session.ConnectionCorrelationID()
		}
		merged["correlationId"] = correlationID
	}
	return errs.ToJSONRPCError(code, message, merged, id)
}

func checkStructure(req Request, raw []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return errMalformedObject
	}
	if req.JSONRPC != "2.0" {
		return errBadVersion
	}
	if req.Method == "" {
		return errMissingMethod
	}
	if _, hasID := probe["id"]; hasID && req.ID == nil {
		return errBadID
	}
	return nil
}

func extractCorrelationID(params json.RawMessage) string {
	if len(params) == 0 {
		return ""
	}
	var meta requestMeta
	if err := json.Unmarshal(params, &meta); err != nil {
		return ""
	}
	return meta.Meta.CorrelationID
}

var (
	errMalformedObject = plainError("request is not a JSON object")
	errBadVersion      = plainError(`"jsonrpc" must equal "2.0"`)
	errMissingMethod   = plainError(`"method" must be a non-empty string`)
	errBadID           = plainError(`"id" must be present and non-null for a request`)
)

type plainError string

func (e plainError) Error() string { return string(e) }

// ReadLines scans r for newline-delimited frames, invoking onLine for
// each non-empty line. It stops on ctx cancellation or EOF. Diagnostics
// never go to r/w -- only framed JSON-RPC traffic does.
func ReadLines(ctx context.Context, r io.Reader, onLine func([]byte)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(trimSpace(line)) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		onLine(cp)
	}
	return scanner.Err()
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

// WriteLine serializes v and writes it as one newline-terminated frame,
// guarded by a mutex so concurrent goroutines emitting responses never
// interleave partial writes.
type LineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLineWriter(w io.Writer) *LineWriter { return &LineWriter{w: w} }

func (lw *LineWriter) WriteLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if _, err := lw.w.Write(data); err != nil {
		return err
	}
	_, err = lw.w.Write([]byte("\n"))
	return err
}
