// Package permission decides whether a tool call may proceed and, when the
// answer is "ask the user", carries that question to a client and back.
//
// # Rules
//
// A rule is a glob pattern plus an action (allow, deny, ask). Rules layer:
// the session's override ruleset is consulted first, then the agent's,
// then the project's. Within the combined list the first rule whose
// pattern matches the tool-defined key wins; no match means ask. Keys are
// tool-defined: the edit tool uses the target path, the bash tool uses
// "bash:<command> <subcommand>" keys derived from parsing the command line
// with mvdan.cc/sh.
//
// # The ask flow
//
// Gate.Ask publishes a permission.updated event carrying the request and
// blocks the tool call until Gate.Reply delivers "once", "always", or
// "reject". "always" appends allow rules for the request's patterns to the
// session ruleset before proceeding, so the same question is not asked
// again. A pending ask resolves as reject if the enclosing turn is
// cancelled.
//
// The package also hosts the repeated-call loop detector; tool dispatch
// uses it to escalate a model stuck re-issuing the identical call.
package permission
