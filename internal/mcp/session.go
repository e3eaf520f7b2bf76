package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/mcpeval/internal/bench"
	"github.com/hpungsan/mcpeval/internal/logging"
	"github.com/hpungsan/mcpeval/internal/model"
)

const (
	replayPoll    = 50 * time.Millisecond
	replayTimeout = 30 * time.Second
)

func (h *Handlers) hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(h.onInitialize)
	hooks.AddOnRegisterSession(h.onRegister)
	hooks.AddOnUnregisterSession(h.onUnregister)
	return hooks
}

// onInitialize opens (or resumes) the stored session for the client and
// registers it. A session resumed while waiting on elicitation re-issues the
// request once the client has finished initializing.
//
// Over streamable HTTP the client session is registered with the server only
// after this hook returns; onRegister exposes the tools then.
func (h *Handlers) onInitialize(ctx context.Context, _ any, msg *mcp.InitializeRequest, _ *mcp.InitializeResult) {
	cs := server.ClientSessionFromContext(ctx)
	if cs == nil {
		h.log.Warn("initialize without a client session")
		return
	}
	id := cs.SessionID()

	board := bench.NewSwitchboard()
	toggler := &sessionToggler{
		srv:       h.srv,
		h:         h,
		sessionID: id,
		board:     board,
		log:       h.log.With(zap.String(logging.KeySessionID, id)),
	}

	h.setToggler(id, toggler)
	sess, err := bench.Open(ctx, h.opts, id, initParams(msg), toggler, h.peer)
	if err != nil {
		h.dropToggler(id)
		h.log.Error("open session failed", zap.String(logging.KeySessionID, id), zap.Error(err))
		return
	}
	h.registry.Insert(sess)

	if sess.NeedsReplay() {
		go h.replay(h.srv.WithContext(context.Background(), cs), cs, sess.RunID())
	}
}

// replay waits for the client to finish the handshake, then runs the pending
// entry hook under the session lock.
func (h *Handlers) replay(ctx context.Context, cs server.ClientSession, runID string) {
	log := h.log.With(logging.Session(cs.SessionID(), &runID)...)

	deadline := time.Now().Add(replayTimeout)
	for !cs.Initialized() {
		if time.Now().After(deadline) {
			log.Warn("client never finished initializing; elicitation not replayed")
			return
		}
		time.Sleep(replayPoll)
	}

	err := h.registry.Do(cs.SessionID(), func(s *bench.Session) error {
		return s.Replay(ctx)
	})
	if err != nil {
		log.Error("elicitation replay failed", zap.Error(err))
	}
}

// onRegister exposes the tools of a session opened before its client session
// was registered. Stdio registers first, so there is nothing to do there.
func (h *Handlers) onRegister(_ context.Context, cs server.ClientSession) {
	id := cs.SessionID()
	t := h.toggler(id)
	if t == nil {
		return
	}
	err := h.registry.Do(id, func(*bench.Session) error {
		t.sync()
		return nil
	})
	if err != nil {
		t.log.Warn("sync session tools failed", zap.Error(err))
	}
}

func (h *Handlers) onUnregister(_ context.Context, cs server.ClientSession) {
	id := cs.SessionID()
	h.registry.Remove(id)
	h.dropToggler(id)
	h.log.Debug("session closed", zap.String(logging.KeySessionID, id))
}

// board returns the session's switchboard, or nil for an unknown session.
func (h *Handlers) board(id string) *bench.Switchboard {
	if t := h.toggler(id); t != nil {
		return t.board
	}
	return nil
}

func (h *Handlers) toggler(id string) *sessionToggler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.togglers[id]
}

func (h *Handlers) setToggler(id string, t *sessionToggler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.togglers[id] = t
}

func (h *Handlers) dropToggler(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.togglers, id)
}

// initParams maps the client's initialize request onto the stored handshake.
func initParams(msg *mcp.InitializeRequest) model.InitParams {
	if msg == nil {
		return model.InitParams{}
	}
	p := msg.Params
	return model.InitParams{
		ProtocolVersion: p.ProtocolVersion,
		ClientInfo: model.ClientInfo{
			Name:    p.ClientInfo.Name,
			Version: p.ClientInfo.Version,
		},
		Capabilities: model.Capabilities{
			Elicitation: p.Capabilities.Elicitation != nil,
			Sampling:    p.Capabilities.Sampling != nil,
			Roots:       p.Capabilities.Roots != nil,
		},
	}
}

// sessionToggler exposes one session's tools through per-session tool
// registration and records every handle on a switchboard for resource gating.
type sessionToggler struct {
	srv       *server.MCPServer
	h         *Handlers
	sessionID string
	board     *bench.Switchboard
	log       *zap.Logger
}

// Apply implements bench.Toggler. Only the last toggle per handle matters, so
// the batch is collapsed before touching the session's tool set.
func (t *sessionToggler) Apply(batch []bench.Toggle) {
	t.board.Apply(batch)

	final := make(map[string]bool, len(batch))
	order := make([]string, 0, len(batch))
	for _, tg := range batch {
		if _, ok := toolRegistry[tg.Name]; !ok {
			continue
		}
		if _, seen := final[tg.Name]; !seen {
			order = append(order, tg.Name)
		}
		final[tg.Name] = tg.Enable
	}

	var (
		add    []server.ServerTool
		remove []string
	)
	for _, name := range order {
		if final[name] && !t.h.disabled[name] {
			add = append(add, t.serverTool(name))
		} else {
			remove = append(remove, name)
		}
	}

	if len(remove) > 0 {
		if err := t.srv.DeleteSessionTools(t.sessionID, remove...); err != nil {
			t.warn("remove session tools failed", err, remove)
		}
	}
	if len(add) > 0 {
		t.add(add)
	}
}

// sync exposes every tool the switchboard has enabled.
func (t *sessionToggler) sync() {
	var add []server.ServerTool
	for _, name := range t.board.List() {
		if _, ok := toolRegistry[name]; ok && !t.h.disabled[name] {
			add = append(add, t.serverTool(name))
		}
	}
	if len(add) > 0 {
		t.add(add)
	}
}

func (t *sessionToggler) add(tools []server.ServerTool) {
	if err := t.srv.AddSessionTools(t.sessionID, tools...); err != nil {
		names := make([]string, len(tools))
		for i, st := range tools {
			names[i] = st.Tool.Name
		}
		t.warn("add session tools failed", err, names)
	}
}

// warn logs a failed tool update. A session the server has not registered
// yet is expected over streamable HTTP and picked up by sync.
func (t *sessionToggler) warn(msg string, err error, tools []string) {
	if err == server.ErrSessionNotFound {
		t.log.Debug("client session not registered yet", zap.Strings("tools", tools))
		return
	}
	t.log.Warn(msg, zap.Strings("tools", tools), zap.Error(err))
}

func (t *sessionToggler) serverTool(name string) server.ServerTool {
	entry := toolRegistry[name]
	return server.ServerTool{Tool: entry.def, Handler: entry.handler(t.h)}
}
