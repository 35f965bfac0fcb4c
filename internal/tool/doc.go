// Package tool defines the tools a model can call and the registry that
// binds them to a conversation graph. Built-in tools cover grounded web
// search, a canned weather lookup, and read-only PostgreSQL access; the
// HITL variants wrap them so every call pauses for human approval first.
// Tools report business failures as text returned to the model and keep
// Go errors for protocol-level problems.
package tool
