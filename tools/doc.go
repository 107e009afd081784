// Package tools describes the tools exposed by a tool server: descriptors with their
// parameter schemas, call requests and results, and the Registry used to resolve and
// validate calls before they are dispatched.
package tools
