package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentd-dev/agentd/internal/hook"
	"github.com/agentd-dev/agentd/internal/id"
	"github.com/agentd-dev/agentd/internal/permission"
	"github.com/agentd-dev/agentd/internal/tool"
	"github.com/agentd-dev/agentd/pkg/types"
)

// executeToolCalls runs the step's tool calls in order. Tool failures are
// local: the part records the error and the turn continues. Only turn
// cancellation stops the walk early.
func (e *Engine) executeToolCalls(
	ctx context.Context,
	sess *types.Session,
	agent *Agent,
	asst *types.Message,
	parts []*types.ToolPart,
) {
	fileTimes := e.sessionFileTimes(sess.ID)

	for _, part := range parts {
		if ctx.Err() != nil {
			e.failTool(ctx, part, types.NewError(types.ErrorAborted, "turn cancelled"))
			continue
		}
		e.executeOne(ctx, sess, agent, asst, part, fileTimes)
	}
}

func (e *Engine) executeOne(
	ctx context.Context,
	sess *types.Session,
	agent *Agent,
	asst *types.Message,
	part *types.ToolPart,
	fileTimes *tool.FileTimes,
) {
	now := time.Now().UnixMilli()
	part.State.Time.Start = &now
	e.putPart(ctx, part, "")

	verdict := e.hooks.ValidateTool(ctx, hook.ValidateInput{
		Tool:      part.Tool,
		SessionID: sess.ID,
		CallID:    part.CallID,
		Args:      part.State.Input,
	})
	if verdict.Blocked {
		reason := verdict.Reason
		if reason == "" {
			reason = "blocked by a validate hook"
		}
		e.failTool(ctx, part, types.NewError(types.ErrorToolBlocked, reason))
		return
	}
	if verdict.Args != nil {
		part.State.Input = verdict.Args
	}

	impl, ok := e.tools.Get(part.Tool)
	if !ok {
		e.failTool(ctx, part, fmt.Errorf("tool not found: %s", part.Tool))
		return
	}

	ask := e.askFunc(sess.ID, agent, asst.ID, part)

	// A model repeating the exact same call is usually stuck; escalate to
	// an interactive ask before running it again.
	if e.loops.Check(sess.ID, part.Tool, part.State.Input) {
		err := ask(ctx, "loop:"+part.Tool,
			fmt.Sprintf("Allow repeated identical %s call?", part.Tool),
			nil, map[string]any{"input": part.State.Input})
		if err != nil {
			e.failTool(ctx, part, err)
			return
		}
	}

	tctx := &tool.Context{
		SessionID: sess.ID,
		MessageID: asst.ID,
		CallID:    part.CallID,
		Agent:     agent.Name,
		WorkDir:   sess.Directory,
		Ask:       ask,
		FileTimes: fileTimes,
		OnMetadata: func(title string, meta map[string]any) {
			part.State.Title = title
			part.State.Metadata = meta
			e.putPart(ctx, part, "")
		},
		Subcall: e.subcallFunc(sess, agent, asst, part, fileTimes),
	}

	raw, err := json.Marshal(part.State.Input)
	if err != nil {
		e.failTool(ctx, part, fmt.Errorf("invalid tool arguments: %w", err))
		return
	}

	result, err := impl.Execute(ctx, raw, tctx)
	if err != nil {
		if ctx.Err() != nil {
			e.failTool(ctx, part, types.NewError(types.ErrorAborted, "turn cancelled"))
			return
		}
		e.failTool(ctx, part, err)
		return
	}

	direction := result.Direction
	if direction == "" {
		direction = tool.Head
	}
	trunc, err := e.truncator.Truncate(result.Output, direction)
	if err != nil {
		e.failTool(ctx, part, err)
		return
	}

	out := e.hooks.TransformResult(ctx,
		hook.TransformInput{Tool: part.Tool, SessionID: sess.ID, CallID: part.CallID},
		hook.TransformOutput{Title: result.Title, Output: trunc.Content, Metadata: result.Metadata})

	end := time.Now().UnixMilli()
	part.State.Status = types.ToolCompleted
	part.State.Title = out.Title
	part.State.Output = out.Output
	part.State.Metadata = out.Metadata
	part.State.Time.End = &end
	if trunc.Truncated {
		if part.State.Metadata == nil {
			part.State.Metadata = make(map[string]any)
		}
		part.State.Metadata["truncated"] = true
		part.State.Metadata["outputID"] = trunc.OutputID
	}
	for _, a := range result.Attachments {
		part.State.Attachments = append(part.State.Attachments, types.FilePart{
			SessionID: sess.ID,
			MessageID: asst.ID,
			Type:      "file",
			Mime:      a.MediaType,
			Filename:  a.Filename,
			URL:       a.URL,
		})
	}
	e.putPart(ctx, part, "")
}

// askFunc binds the permission gate to one tool call with the layered
// rulesets: session overrides first, then the agent's rules, then the
// project's. Session rules re-read per ask so an "always" reply earlier
// in the turn takes effect immediately.
func (e *Engine) askFunc(sessionID string, agent *Agent, messageID string, part *types.ToolPart) tool.AskFunc {
	return func(ctx context.Context, key, title string, patterns []string, metadata map[string]any) error {
		repo := e.store.Repo()

		var sessionRules, projectRules []types.PermissionRule
		if sess, err := repo.GetSession(ctx, sessionID); err == nil {
			sessionRules = sess.Permissions
			if rules, err := repo.GetProjectPermissions(ctx, sess.ProjectID); err == nil {
				projectRules = rules
			}
		}
		if e.config != nil {
			projectRules = append(projectRules, e.config.Permission...)
		}

		return e.gate.Ask(ctx, permission.Request{
			SessionID: sessionID,
			MessageID: messageID,
			CallID:    part.CallID,
			Tool:      part.Tool,
			Title:     title,
			Key:       key,
			Patterns:  patterns,
			Metadata:  metadata,
		}, sessionRules, agent.Permission, projectRules)
	}
}

// subcallFunc lets a composite tool (batch) run nested calls through the
// full dispatch path: each nested call records its own tool part under
// its own call ID, so validation hooks, permission asks, and streamed
// state are attributed to the sub-call rather than the parent.
func (e *Engine) subcallFunc(
	sess *types.Session,
	agent *Agent,
	asst *types.Message,
	parent *types.ToolPart,
	fileTimes *tool.FileTimes,
) tool.SubcallFunc {
	return func(ctx context.Context, callID, toolID string, input json.RawMessage) (*tool.Result, error) {
		var args map[string]any
		if len(input) > 0 {
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, fmt.Errorf("invalid tool arguments: %w", err)
			}
		}
		part := &types.ToolPart{
			ID:        id.Ascending(id.Part),
			SessionID: sess.ID,
			MessageID: asst.ID,
			Type:      "tool",
			CallID:    callID,
			Tool:      toolID,
			Parent:    parent.CallID,
			State:     types.ToolState{Status: types.ToolPending, Input: args},
		}
		e.executeOne(ctx, sess, agent, asst, part, fileTimes)

		if part.State.Status == types.ToolError {
			return nil, errors.New(part.State.Error)
		}
		return &tool.Result{
			Title:    part.State.Title,
			Output:   part.State.Output,
			Metadata: part.State.Metadata,
		}, nil
	}
}

// failTool moves a tool part to its terminal error state.
func (e *Engine) failTool(ctx context.Context, part *types.ToolPart, err error) {
	if part.State.Status == types.ToolCompleted || part.State.Status == types.ToolError {
		return
	}
	now := time.Now().UnixMilli()
	part.State.Status = types.ToolError
	part.State.Error = types.AsSessionError(err).Error()
	part.State.Time.End = &now
	e.putPart(context.WithoutCancel(ctx), part, "")
}
