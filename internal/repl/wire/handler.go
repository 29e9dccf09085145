package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/matthewbaird/docagg/internal/document"
	"github.com/matthewbaird/docagg/internal/pipeline"
	"github.com/matthewbaird/docagg/internal/repl/autocomplete"
	"github.com/matthewbaird/docagg/internal/repl/command"
	"github.com/matthewbaird/docagg/internal/repl/executor"
	"github.com/matthewbaird/docagg/internal/repl/session"
)

const (
	// rowBatchSize controls how many documents are sent per "rows" message.
	rowBatchSize = 50
)

// Handler manages WebSocket connections for the console.
type Handler struct {
	sessions     *session.Manager
	executor     *executor.Executor
	autocomplete *autocomplete.Engine
	logger       *slog.Logger
}

// NewHandler creates a WebSocket handler with all dependencies.
func NewHandler(
	sessions *session.Manager,
	exec *executor.Executor,
	ac *autocomplete.Engine,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions:     sessions,
		executor:     exec,
		autocomplete: ac,
		logger:       logger.With("component", "repl"),
	}
}

// inflight tracks running statements so "cancel" can stop them.
type inflight struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func (f *inflight) start(ctx context.Context, id string) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	if prev, ok := f.cancels[id]; ok {
		prev()
	}
	f.cancels[id] = cancel
	f.mu.Unlock()
	f.wg.Add(1)
	return ctx
}

func (f *inflight) finish(id string) {
	f.mu.Lock()
	if cancel, ok := f.cancels[id]; ok {
		cancel()
		delete(f.cancels, id)
	}
	f.mu.Unlock()
	f.wg.Done()
}

func (f *inflight) cancel(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	cancel, ok := f.cancels[id]
	if ok {
		cancel()
	}
	return ok
}

// ServeHTTP upgrades to WebSocket and runs the message loop. A session ID
// in the "session" query parameter resumes that session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	sess := h.sessions.Get(r.URL.Query().Get("session"))
	if sess == nil {
		sess = h.sessions.Create()
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	running := &inflight{cancels: make(map[string]context.CancelFunc)}
	defer running.wg.Wait()

	h.send(ctx, conn, ServerMessage{
		Type: "session",
		Data: SessionData{SessionID: sess.ID, Collection: sess.Current()},
	})

	for {
		var msg ClientMessage
		err := wsjson.Read(ctx, conn, &msg)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("connection closed", "session", sess.ID, "status", websocket.CloseStatus(err))
			}
			cancel()
			return
		}
		sess.Touch()

		switch msg.Type {
		case "execute":
			execCtx := running.start(ctx, msg.ID)
			go func(msg ClientMessage) {
				defer running.finish(msg.ID)
				h.handleExecute(ctx, execCtx, conn, sess, msg)
			}(msg)
		case "autocomplete":
			h.handleAutocomplete(ctx, conn, msg)
		case "ping":
			h.send(ctx, conn, ServerMessage{Type: "pong", RequestID: msg.ID})
		case "cancel":
			if !running.cancel(msg.ID) {
				h.sendError(ctx, conn, msg.ID, "not_running", "no running statement with that id")
			}
		default:
			h.sendError(ctx, conn, msg.ID, "unknown_type", fmt.Sprintf("unknown message type: %s", msg.Type))
		}
	}
}

// handleExecute runs one statement under execCtx and writes replies under
// ctx, so a cancelled statement still reports its error.
func (h *Handler) handleExecute(ctx, execCtx context.Context, conn *websocket.Conn, sess *session.Session, msg ClientMessage) {
	start := time.Now()

	var data ExecuteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid execute data")
		return
	}

	out, err := h.executor.Execute(execCtx, sess, data.Input)
	if err != nil {
		h.sendError(ctx, conn, msg.ID, errorCode(err), err.Error())
		return
	}

	switch {
	case out.Meta != nil:
		h.send(ctx, conn, ServerMessage{Type: "meta", RequestID: msg.ID, Data: out.Meta})
		if out.Statement.Command == "use" {
			h.send(ctx, conn, ServerMessage{
				Type: "session",
				Data: SessionData{SessionID: sess.ID, Collection: sess.Current()},
			})
		}
	case out.Explanation != nil:
		h.send(ctx, conn, ServerMessage{Type: "explain", RequestID: msg.ID, Data: out.Explanation})
	case out.Result != nil:
		res := out.Result
		rd := ResultData{
			Collection: out.Statement.Collection,
			Path:       string(res.Path),
			Reason:     res.Reason,
			Total:      len(res.Documents),
		}
		if res.Cost != nil {
			rd.Cost = res.Cost.Total
		}
		h.send(ctx, conn, ServerMessage{Type: "result", RequestID: msg.ID, Data: rd})

		for i := 0; i < len(res.Documents); i += rowBatchSize {
			end := min(i+rowBatchSize, len(res.Documents))
			rows, err := encodeRows(res.Documents[i:end])
			if err != nil {
				h.sendError(ctx, conn, msg.ID, "encode_error", err.Error())
				return
			}
			h.send(ctx, conn, ServerMessage{Type: "rows", RequestID: msg.ID, Data: RowsData{Rows: rows}})
		}
		h.send(ctx, conn, ServerMessage{
			Type:      "done",
			RequestID: msg.ID,
			Data:      DoneData{Total: len(res.Documents), Elapsed: time.Since(start).String()},
		})
	}
}

func encodeRows(docs []*document.Document) ([]json.RawMessage, error) {
	rows := make([]json.RawMessage, 0, len(docs))
	for _, d := range docs {
		b, err := document.Marshal(d)
		if err != nil {
			return nil, err
		}
		rows = append(rows, b)
	}
	return rows, nil
}

func errorCode(err error) string {
	var (
		se *command.SyntaxError
		de *pipeline.DefinitionError
	)
	switch {
	case errors.As(err, &se):
		return "syntax_error"
	case errors.As(err, &de):
		return "definition_error"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "exec_error"
	}
}

func (h *Handler) handleAutocomplete(ctx context.Context, conn *websocket.Conn, msg ClientMessage) {
	var data AutocompleteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid autocomplete data")
		return
	}

	items := h.autocomplete.Complete(ctx, data.Input, data.Cursor)
	h.send(ctx, conn, ServerMessage{
		Type:      "completions",
		RequestID: msg.ID,
		Data:      CompletionsData{Items: items},
	})
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, msg ServerMessage) {
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		h.logger.Debug("write failed", "type", msg.Type, "error", err)
	}
}

func (h *Handler) sendError(ctx context.Context, conn *websocket.Conn, requestID, code, message string) {
	h.send(ctx, conn, ServerMessage{
		Type:      "error",
		RequestID: requestID,
		Data: ErrorData{
			Code:    code,
			Message: message,
		},
	})
}
