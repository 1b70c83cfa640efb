// Package mcp exposes retrieval as MCP tools over newline-delimited JSON-RPC
// on stdio and over HTTP POST.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/maomao/internal/domain/knowledge"
	"github.com/kailas-cloud/maomao/internal/domain/search/request"
	"github.com/kailas-cloud/maomao/internal/usecase/retrieval"
)

// maxMessageSize caps one JSON-RPC message.
const maxMessageSize = 1 << 20

// Retriever is the retrieval contract the tools call.
type Retriever interface {
	SearchGlobal(ctx context.Context, query string, limit *int) ([]knowledge.SearchResult, error)
	SearchProject(ctx context.Context, query string, projectID *string, limit *int) ([]knowledge.SearchResult, error)
	SearchAll(ctx context.Context, query string, projectID *string, limit *int) ([]knowledge.SearchResult, error)
	Retrieve(ctx context.Context, query string, opts request.Options) (knowledge.Context, error)
	GetStatus(ctx context.Context) (retrieval.Status, error)
}

// Info is the static server description reported by status tools.
// StatusConfig is the non-secret configuration shown by the status resource.
type Info struct {
	Name             string
	Version          string
	Collection       string
	EmbeddingModel   string
	DefaultProjectID string
	StatusConfig     any
}

// Server dispatches JSON-RPC requests to tools.
type Server struct {
	svc    Retriever
	info   Info
	logger *zap.Logger
	tools  map[string]toolHandler
}

// NewServer creates an MCP server.
func NewServer(svc Retriever, info Info, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if info.Name == "" {
		info.Name = "maomao"
	}
	s := &Server{svc: svc, info: info, logger: logger}
	s.tools = s.registerTools()
	return s
}

// Handle processes one raw message. It returns nil for notifications.
func (s *Server) Handle(ctx context.Context, raw []byte) *Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, codeParseError, "parse error")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, codeInvalidRequest, "invalid request")
	}

	result, rpcErr := s.dispatch(ctx, &req)
	if req.IsNotification() {
		return nil
	}
	if rpcErr != nil {
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, *RPCError) {
	switch req.Method {
	case "initialize":
		return initializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      serverInfo{Name: s.info.Name, Version: s.info.Version},
			Capabilities: serverCapabilities{
				Tools:     &listChanged{},
				Resources: &listChanged{},
			},
		}, nil
	case "notifications/initialized", "notifications/cancelled":
		return nil, nil
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return listToolsResult{Tools: toolDefinitions()}, nil
	case "tools/call":
		var params callToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			return nil, &RPCError{Code: codeInvalidParams, Message: "invalid params"}
		}
		res, err := s.CallTool(ctx, params.Name, params.Arguments)
		if err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
		}
		return res, nil
	case "resources/list":
		return listResourcesResult{Resources: []Resource{statusResource}}, nil
	case "resources/read":
		var params readResourceParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: "invalid params"}
		}
		res, err := s.readResource(ctx, params.URI)
		if err != nil {
			return nil, rpcErrorFor(err)
		}
		return res, nil
	default:
		return nil, &RPCError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

// ServeStdio reads newline-delimited messages from r and writes responses to w
// until r is exhausted or ctx is cancelled. Requests are handled in order.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReaderSize(r, 64*1024)
	var mu sync.Mutex

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, tooLong, err := readLine(reader, maxMessageSize)
		switch {
		case tooLong:
			if werr := writeMessage(&mu, w, errorResponse(nil, codeInvalidRequest, "message too large")); werr != nil {
				return werr
			}
		case len(bytes.TrimSpace(line)) > 0:
			if resp := s.Handle(ctx, line); resp != nil {
				if werr := writeMessage(&mu, w, resp); werr != nil {
					return werr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read stdin: %w", err)
		}
	}
}

// readLine returns the next newline-terminated line. At most limit bytes are
// kept; the remainder of a longer line is drained and tooLong is set.
func readLine(r *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		frag, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(frag) > limit {
				tooLong, line = true, nil
			} else {
				line = append(line, frag...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, err
	}
}

// ServeHTTP handles one JSON-RPC message per POST body.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize+1))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxMessageSize {
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
		return
	}

	resp := s.Handle(r.Context(), body)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func writeMessage(mu *sync.Mutex, w io.Writer, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func errorResponse(id json.RawMessage, code int, msg string) *Response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: msg}}
}

func rpcErrorFor(err error) *RPCError {
	if errors.Is(err, errUnknownResource) {
		return &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	return &RPCError{Code: codeInternalError, Message: err.Error()}
}
