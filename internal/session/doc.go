// Package session drives conversations: it owns the per-session turn
// lock, the streaming turn engine that talks to providers and dispatches
// tools, the compactor that keeps history inside the model's context
// window, and the service layer the HTTP API calls for session CRUD.
//
// A turn is one user prompt producing one assistant message. The engine
// acquires the session lock, persists the user message, then loops model
// steps: stream text/reasoning/tool-call events into parts, execute
// requested tools through the registry (gated by permissions and
// lifecycle hooks), and feed results back until the model stops. Exactly
// one session.idle event closes every turn, normal or not.
package session
