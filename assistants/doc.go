// Package assistants provides the agent loop that interleaves decisions of a model
// with tool calls dispatched through an MCP session.
//
// An Agent asks its DecisionEngine for the next step of a conversation. A final answer
// ends the run; requested tool calls are validated against the tool registry,
// dispatched concurrently and reported back to the engine as tool turns, in request order.
// The run ends with a final answer, a fatal error such as a crashed tool server,
// or when the turn limit is exceeded.
package assistants
