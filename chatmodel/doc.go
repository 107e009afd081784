// Package chatmodel defines the conversation exchanged between the agent loop and
// the decision engine: turns, tool calls and results, decisions, and the chat context
// carried on context.Context.
package chatmodel
