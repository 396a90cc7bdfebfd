package session

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"

	"github.com/agentd-dev/agentd/internal/event"
	"github.com/agentd-dev/agentd/internal/hook"
	"github.com/agentd-dev/agentd/internal/id"
	"github.com/agentd-dev/agentd/internal/logging"
	"github.com/agentd-dev/agentd/internal/permission"
	"github.com/agentd-dev/agentd/internal/provider"
	"github.com/agentd-dev/agentd/internal/store"
	"github.com/agentd-dev/agentd/internal/tool"
	"github.com/agentd-dev/agentd/pkg/types"
)

// Provider retry policy: transient stream failures back off with jitter
// up to ten total attempts. Tool execution is never retried.
const (
	maxStreamAttempts = 10
	retryInitialDelay = 500 * time.Millisecond
	retryMaxDelay     = 30 * time.Second
	defaultMaxSteps   = 50
)

// Snapshotter records pre-turn file state so the watcher can attribute
// diffs to the session.
type Snapshotter interface {
	Snapshot(sessionID, directory string)
}

// Deps wires the engine's collaborators.
type Deps struct {
	Store     *store.Store
	Bus       *event.Bus
	Providers *provider.Registry
	Tools     *tool.Registry
	Gate      *permission.Gate
	Hooks     *hook.Dispatcher
	Truncator *tool.Truncator
	Config    *types.Config
	Snapshots Snapshotter // optional
}

// Engine drives turns: one user prompt in, one assistant message out,
// with tool dispatch, permission gating, retries, and compaction along
// the way.
type Engine struct {
	store     *store.Store
	bus       *event.Bus
	providers *provider.Registry
	tools     *tool.Registry
	gate      *permission.Gate
	hooks     *hook.Dispatcher
	truncator *tool.Truncator
	config    *types.Config
	snapshots Snapshotter

	locks     *Locks
	loops     *permission.LoopDetector
	compactor *Compactor

	mu        sync.Mutex
	fileTimes map[string]*tool.FileTimes // sessionID -> read tracker
}

// NewEngine creates an engine.
func NewEngine(d Deps) *Engine {
	return &Engine{
		store:     d.Store,
		bus:       d.Bus,
		providers: d.Providers,
		tools:     d.Tools,
		gate:      d.Gate,
		hooks:     d.Hooks,
		truncator: d.Truncator,
		config:    d.Config,
		snapshots: d.Snapshots,
		locks:     NewLocks(),
		loops:     permission.NewLoopDetector(),
		compactor: NewCompactor(d.Store, d.Bus, d.Providers),
		fileTimes: make(map[string]*tool.FileTimes),
	}
}

// Locks exposes the lock table so the API layer can cancel turns.
func (e *Engine) Locks() *Locks { return e.locks }

// Compactor exposes overflow/compaction for the summarize endpoint.
func (e *Engine) Compactor() *Compactor { return e.compactor }

// PromptInput is one user prompt.
type PromptInput struct {
	SessionID string          `json:"sessionID"`
	Agent     string          `json:"agent,omitempty"`
	Model     *types.ModelRef `json:"model,omitempty"`
	Parts     []PromptPart    `json:"parts"`
}

// PromptPart is a user-supplied message part.
type PromptPart struct {
	Type      string `json:"type"` // "text" | "file"
	Text      string `json:"text,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`
	Mime      string `json:"mime,omitempty"`
	Filename  string `json:"filename,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Prompt runs a full turn and returns the final assistant message. The
// session lock is held for the duration; a concurrent prompt on the same
// session fails with Busy.
func (e *Engine) Prompt(ctx context.Context, in PromptInput) (*types.Message, error) {
	repo := e.store.Repo()
	sess, err := repo.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, types.NewError(types.ErrorNotFound, "session not found: "+in.SessionID)
	}

	token, err := e.locks.Acquire(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	defer token.Release()
	turnCtx := token.Context()

	agent := ResolveAgent(e.config, in.Agent)

	prov, model, err := e.resolveModel(in.Model, agent)
	if err != nil {
		return nil, err
	}

	if sess.Revert != nil {
		if err := e.applyRevert(ctx, sess); err != nil {
			return nil, err
		}
	}

	// With compaction off, a turn that cannot fit is refused up front
	// rather than started and fed into a full window.
	if e.config != nil && e.config.Autocompact != nil && !*e.config.Autocompact {
		if usage := e.lastUsage(ctx, sess.ID); usage != nil && e.compactor.IsOverflow(*usage, model) {
			return nil, types.NewError(types.ErrorOverflow,
				"context window is full and autocompact is disabled")
		}
	}

	e.ensureTitle(ctx, sess, in.Parts)

	userMsg, err := e.createUserMessage(ctx, sess, agent, prov.ID(), model.ID, in.Parts)
	if err != nil {
		return nil, err
	}

	if e.snapshots != nil {
		e.snapshots.Snapshot(sess.ID, sess.Directory)
	}

	system := SystemPrompts(e.config, agent, sess, prov.ID())
	toolInfos := e.resolveTools(agent, model)

	asst := &types.Message{
		ID:         id.Ascending(id.Message),
		SessionID:  sess.ID,
		Role:       "assistant",
		ParentID:   userMsg.ID,
		ProviderID: prov.ID(),
		ModelID:    model.ID,
		System:     system,
		Mode:       agent.Name,
		Path:       &types.MessagePath{Cwd: sess.Directory, Root: sess.Directory},
		Tokens:     &types.TokenUsage{},
		Time:       types.MessageTime{Created: time.Now().UnixMilli()},
	}
	if err := repo.PutMessage(ctx, asst); err != nil {
		return nil, err
	}
	e.bus.Publish(event.MessageUpdated, event.MessageUpdatedData{Info: asst})

	stopReason := e.runSteps(turnCtx, sess, agent, prov, model, toolInfos, asst)

	e.finalize(sess, asst, stopReason)
	return asst, nil
}

// runSteps loops model calls until the model stops requesting tools, the
// step budget runs out, an error unwinds the turn, or compaction ends it.
// It returns the session.stop reason.
func (e *Engine) runSteps(
	ctx context.Context,
	sess *types.Session,
	agent *Agent,
	prov provider.Provider,
	model types.Model,
	toolInfos []provider.ToolInfo,
	asst *types.Message,
) string {
	maxSteps := agent.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	for step := 0; step < maxSteps; step++ {
		history, err := e.loadHistory(ctx, sess)
		if err != nil {
			e.recordError(ctx, asst, types.AsSessionError(err))
			return "error"
		}

		req := provider.Request{
			ModelID:     model.ID,
			System:      asst.System,
			Messages:    history,
			Tools:       provider.ConvertTools(toolInfos),
			MaxTokens:   model.OutputLimit,
			Temperature: agent.Temperature,
			TopP:        agent.TopP,
		}

		stream, err := e.startStream(ctx, prov, req)
		if err != nil {
			e.recordError(ctx, asst, types.AsSessionError(err))
			return "error"
		}

		res, err := e.consumeStream(ctx, stream, asst)
		if err != nil {
			if ctx.Err() != nil {
				e.abortParts(ctx, res)
				e.recordError(ctx, asst, types.NewError(types.ErrorAborted, "turn cancelled"))
				return "error"
			}
			e.recordError(ctx, asst, types.AsSessionError(provider.ClassifyError(prov.ID(), err)))
			return "error"
		}

		asst.Tokens.Add(res.finish.Usage)
		asst.Cost += model.Cost(res.finish.Usage)
		e.putMessage(ctx, asst)

		if res.finish.Reason == "length" {
			e.recordError(ctx, asst, types.NewError(types.ErrorOutputLength, "model output truncated at the provider limit"))
			return "error"
		}

		if e.compactor.IsOverflow(res.finish.Usage, model) {
			pruned, err := e.compactor.Prune(ctx, sess.ID)
			if err != nil {
				logging.Warn().Err(err).Str("session", sess.ID).Msg("prune failed")
			}
			if pruned == 0 {
				// Nothing left to prune: end this turn with a summary.
				if _, err := e.compactor.Compact(ctx, sess.ID, agent.Name); err != nil {
					logging.Warn().Err(err).Str("session", sess.ID).Msg("compaction failed")
				}
				return "compact"
			}
		}

		if res.finish.Reason == "tool_use" && len(res.toolParts) > 0 {
			e.executeToolCalls(ctx, sess, agent, asst, res.toolParts)
			if ctx.Err() != nil {
				e.recordError(ctx, asst, types.NewError(types.ErrorAborted, "turn cancelled"))
				return "error"
			}
			continue
		}
		return "stop"
	}

	logging.Warn().Str("session", sess.ID).Int("steps", maxSteps).Msg("turn hit step budget")
	return "stop"
}

// startStream opens the provider stream with bounded exponential backoff.
// Classified errors (auth, abort) are permanent; raw transport errors
// retry up to the attempt budget.
func (e *Engine) startStream(ctx context.Context, prov provider.Provider, req provider.Request) (provider.Stream, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialDelay
	b.MaxInterval = retryMaxDelay
	b.MaxElapsedTime = 0

	var stream provider.Stream
	op := func() error {
		s, err := prov.Stream(ctx, req)
		if err != nil {
			err = provider.ClassifyError(prov.ID(), err)
			if types.KindOf(err) != types.ErrorUnknown {
				return backoff.Permanent(err)
			}
			return err
		}
		stream = s
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, maxStreamAttempts-1), ctx))
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// finalize stamps completion, emits the closing events, and fires the
// stop hooks. Every turn ends here exactly once.
func (e *Engine) finalize(sess *types.Session, asst *types.Message, reason string) {
	// The turn context may already be cancelled; finalisation uses a
	// fresh context so the terminal state always lands.
	ctx := context.Background()

	if asst.Time.Completed == nil {
		now := time.Now().UnixMilli()
		asst.Time.Completed = &now
		e.putMessage(ctx, asst)
	}

	if asst.Error != nil && asst.Error.Name != types.ErrorAborted {
		e.bus.Publish(event.SessionError, event.SessionErrorData{
			SessionID: sess.ID,
			Error:     asst.Error,
		})
	}

	e.bus.Publish(event.SessionIdle, event.SessionIdleData{SessionID: sess.ID})

	e.hooks.SessionStop(hook.StopInput{SessionID: sess.ID, Reason: reason})
	e.hooks.Notify(hook.NotificationInput{SessionID: sess.ID, Type: "turn." + reason}, nil)
}

// recordError marks the assistant message with a terminal error.
func (e *Engine) recordError(ctx context.Context, asst *types.Message, serr *types.SessionError) {
	asst.Error = serr
	e.putMessage(ctx, asst)
}

// abortParts transitions still-pending tool parts from a cancelled step
// to their terminal Aborted state.
func (e *Engine) abortParts(ctx context.Context, res *stepResult) {
	if res == nil {
		return
	}
	now := time.Now().UnixMilli()
	for _, part := range res.toolParts {
		if part.State.Status != types.ToolPending {
			continue
		}
		part.State.Status = types.ToolError
		part.State.Error = string(types.ErrorAborted)
		part.State.Time.End = &now
		e.putPart(context.WithoutCancel(ctx), part, "")
	}
}

// createUserMessage persists the user message and its parts in one
// transaction and publishes them.
func (e *Engine) createUserMessage(
	ctx context.Context,
	sess *types.Session,
	agent *Agent,
	providerID, modelID string,
	inParts []PromptPart,
) (*types.Message, error) {
	msg := &types.Message{
		ID:        id.Ascending(id.Message),
		SessionID: sess.ID,
		Role:      "user",
		Agent:     agent.Name,
		Model:     &types.ModelRef{ProviderID: providerID, ModelID: modelID},
		Time:      types.MessageTime{Created: time.Now().UnixMilli()},
	}

	var parts []types.Part
	for _, p := range inParts {
		switch p.Type {
		case "file":
			parts = append(parts, &types.FilePart{
				ID:        id.Ascending(id.Part),
				SessionID: sess.ID,
				MessageID: msg.ID,
				Type:      "file",
				Mime:      p.Mime,
				Filename:  p.Filename,
				URL:       p.URL,
			})
		default:
			if p.Text == "" {
				continue
			}
			parts = append(parts, &types.TextPart{
				ID:        id.Ascending(id.Part),
				SessionID: sess.ID,
				MessageID: msg.ID,
				Type:      "text",
				Text:      p.Text,
				Synthetic: p.Synthetic,
			})
		}
	}

	err := e.store.Tx(ctx, func(r *store.Repo) error {
		if err := r.PutMessage(ctx, msg); err != nil {
			return err
		}
		for _, part := range parts {
			if err := r.PutPart(ctx, part); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.bus.Publish(event.MessageUpdated, event.MessageUpdatedData{Info: msg})
	for _, part := range parts {
		e.bus.Publish(event.MessagePartUpdated, event.MessagePartUpdatedData{Part: part})
	}
	return msg, nil
}

// ensureTitle names the session after its first prompt. Forked sessions
// keep their inherited title.
func (e *Engine) ensureTitle(ctx context.Context, sess *types.Session, parts []PromptPart) {
	if sess.ParentID != nil || !isDefaultTitle(sess.Title) {
		return
	}
	var prompt string
	for _, p := range parts {
		if p.Type == "" || p.Type == "text" {
			if p.Synthetic {
				continue
			}
			prompt = p.Text
			break
		}
	}
	title := titleFromPrompt(prompt)
	if title == "" {
		return
	}
	sess.Title = title
	sess.Time.Updated = time.Now().UnixMilli()
	if err := e.store.Repo().PutSession(ctx, sess); err != nil {
		e.logPersistError(sess.ID, err)
		return
	}
	e.bus.Publish(event.SessionUpdated, event.SessionUpdatedData{Info: sess})
}

// resolveModel picks the provider and model for the turn: explicit
// request, then the agent's configured model, then the global default.
func (e *Engine) resolveModel(ref *types.ModelRef, agent *Agent) (provider.Provider, types.Model, error) {
	if ref != nil && ref.ProviderID != "" && ref.ModelID != "" {
		return e.providers.Resolve(ref.ProviderID, ref.ModelID)
	}
	if agent.Model != "" {
		pid, mid := provider.ParseModelString(agent.Model)
		if p, m, err := e.providers.Resolve(pid, mid); err == nil {
			return p, m, nil
		}
	}
	return e.providers.Resolve("", "")
}

// resolveTools filters the registry by agent capability and global tool
// config. A model without tool support gets none.
func (e *Engine) resolveTools(agent *Agent, model types.Model) []provider.ToolInfo {
	if !model.SupportsTools {
		return nil
	}
	var infos []provider.ToolInfo
	for _, t := range e.tools.List() {
		if !agent.ToolEnabled(t.ID()) {
			continue
		}
		if e.config != nil {
			if enabled, ok := e.config.Tools[t.ID()]; ok && !enabled {
				continue
			}
		}
		infos = append(infos, provider.ToolInfo{
			Name:        t.ID(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return infos
}

// loadHistory reconstructs the model request messages from the store.
func (e *Engine) loadHistory(ctx context.Context, sess *types.Session) ([]*schema.Message, error) {
	repo := e.store.Repo()
	messages, err := repo.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	parts, err := repo.ListSessionParts(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	byMsg := make(map[string][]types.Part)
	for _, p := range parts {
		byMsg[p.PartMessageID()] = append(byMsg[p.PartMessageID()], p)
	}
	return buildHistory(messages, byMsg, sess.Revert), nil
}

// lastUsage returns the newest assistant usage on record, the same
// figure the between-step overflow check sees.
func (e *Engine) lastUsage(ctx context.Context, sessionID string) *types.TokenUsage {
	messages, err := e.store.Repo().ListMessages(ctx, sessionID)
	if err != nil {
		return nil
	}
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == "assistant" && m.Tokens != nil && m.Tokens.Total() > 0 {
			return m.Tokens
		}
	}
	return nil
}

// applyRevert makes a pending revert permanent. The anchor only hides
// rows until the next prompt commits to the truncated timeline; at that
// point the reverted rows are deleted and announced, and the anchor is
// cleared.
func (e *Engine) applyRevert(ctx context.Context, sess *types.Session) error {
	anchor := sess.Revert
	repo := e.store.Repo()

	messages, err := repo.ListMessages(ctx, sess.ID)
	if err != nil {
		return err
	}
	var removed []string
	for _, m := range messages {
		if m.ID < anchor.MessageID {
			continue
		}
		if m.ID == anchor.MessageID && anchor.PartID != nil {
			continue // trimmed below, the message itself survives
		}
		removed = append(removed, m.ID)
	}

	var removedParts []string
	if anchor.PartID != nil {
		parts, err := repo.ListParts(ctx, anchor.MessageID)
		if err != nil {
			return err
		}
		for _, p := range parts {
			if p.PartID() >= *anchor.PartID {
				removedParts = append(removedParts, p.PartID())
			}
		}
	}

	err = e.store.Tx(ctx, func(r *store.Repo) error {
		if len(removed) > 0 {
			if err := r.DeleteMessagesFrom(ctx, sess.ID, removed[0]); err != nil {
				return err
			}
		}
		for _, pid := range removedParts {
			if err := r.DeletePart(ctx, pid); err != nil {
				return err
			}
		}
		sess.Revert = nil
		sess.Time.Updated = time.Now().UnixMilli()
		return r.PutSession(ctx, sess)
	})
	if err != nil {
		return err
	}

	for _, mid := range removed {
		e.bus.Publish(event.MessageRemoved, event.MessageRemovedData{
			SessionID: sess.ID,
			MessageID: mid,
		})
	}
	e.bus.Publish(event.SessionUpdated, event.SessionUpdatedData{Info: sess})
	return nil
}

// sessionFileTimes returns the session's read-before-edit tracker,
// creating it on first use. The tracker spans turns: a file read in an
// earlier turn stays fresh until it changes on disk.
func (e *Engine) sessionFileTimes(sessionID string) *tool.FileTimes {
	e.mu.Lock()
	defer e.mu.Unlock()
	ft, ok := e.fileTimes[sessionID]
	if !ok {
		ft = tool.NewFileTimes()
		e.fileTimes[sessionID] = ft
	}
	return ft
}

func (e *Engine) putMessage(ctx context.Context, msg *types.Message) {
	if err := e.store.Repo().PutMessage(ctx, msg); err != nil {
		e.logPersistError(msg.ID, err)
	}
	e.bus.Publish(event.MessageUpdated, event.MessageUpdatedData{Info: msg})
}

func (e *Engine) logPersistError(id string, err error) {
	logging.Warn().Err(err).Str("id", id).Msg("persist failed")
}
