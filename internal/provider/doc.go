// Package provider abstracts LLM backends behind a typed streaming
// interface, built on the Eino framework.
//
// # Core Components
//
//   - Provider: one configured backend with a model catalog and Stream
//   - Registry: holds providers and resolves provider/model defaults
//   - Stream / StreamEvent: typed event stream for one completion
//   - MockProvider: scripted provider for tests and offline runs
//
// # Supported Providers
//
// Anthropic Claude via the eino-ext claude component, and OpenAI (plus
// OpenAI-compatible endpoints through BaseURL) via the eino-ext openai
// component. API keys come from configuration or fall back to the
// ANTHROPIC_API_KEY / OPENAI_API_KEY environment variables.
//
// # Streaming
//
// Stream returns typed events rather than raw message chunks:
//
//	stream, err := p.Stream(ctx, Request{ModelID: "claude-sonnet-4-20250514", Messages: msgs})
//	for {
//	    event, err := stream.Recv()
//	    if err != nil {
//	        break // io.EOF after the final FinishStep
//	    }
//	    switch e := event.(type) {
//	    case TextDelta:
//	        // incremental assistant text
//	    case ToolCallStart, ToolCallDelta:
//	        // tool call and its argument JSON fragments
//	    case FinishStep:
//	        // finish reason and token usage
//	    }
//	}
//	stream.Close()
//
// Backends disagree on chunk shape (some send deltas, some cumulative
// content); the stream adapter normalises both so consumers only ever
// see deltas. A FinishStep with reason "tool_use" means the assistant
// requested tool calls and expects another model call with the results.
//
// # Resolution
//
// Registry.Resolve picks the provider and model for a request: explicit
// IDs win, then the configured default model ("provider/model"), then
// the best available model. ResolveSmall serves cheap background work
// such as title generation.
package provider
