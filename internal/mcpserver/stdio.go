package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/larkmcp/corekit/internal/logging"
)

const maxLineSize = 10 << 20 // 10 MiB, generous for base64-encoded binary content

// StdioTransport serves the adapter over newline-framed JSON-RPC on an
// arbitrary reader/writer pair, per spec.md §6.1 "line-framed stdio".
// Each incoming line is one Request; each outgoing line is one
// Response. Requests are handled concurrently; responses are
// serialized to the writer one at a time to avoid interleaving.
type StdioTransport struct {
	adapter *Adapter
	logger  logging.Logger
}

// NewStdioTransport builds a StdioTransport over adapter.
func NewStdioTransport(adapter *Adapter) *StdioTransport {
	return &StdioTransport{adapter: adapter, logger: logging.NewComponentLogger("mcpserver.stdio")}
}

// Serve reads one line-framed request per line from r until EOF or ctx
// is cancelled, writing each response as one line to w.
func (t *StdioTransport) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var writeMu sync.Mutex
	var wg sync.WaitGroup

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		default:
		}

		wg.Add(1)
		go func(line []byte) {
			defer wg.Done()
			resp := t.handleLine(ctx, line)
			encoded, err := json.Marshal(resp)
			if err != nil {
				t.logger.Error("failed to encode response: %v", err)
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if _, err := w.Write(append(encoded, '\n')); err != nil {
				t.logger.Error("failed to write response: %v", err)
			}
		}(line)
	}
	wg.Wait()

	if err := scanner.Err(); err != nil {
		return err
	}
	return nil
}

func (t *StdioTransport) handleLine(ctx context.Context, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Response{JSONRPC: "2.0", Error: &RPCError{Code: codeParseError, Message: "malformed JSON-RPC frame"}}
	}
	if req.JSONRPC == "" || req.Method == "" {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: codeInvalidRequest, Message: "missing jsonrpc or method"}}
	}
	return t.adapter.Handle(ctx, req)
}
