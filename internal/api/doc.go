// Package api exposes the conversational HTTP surface: chat invocation,
// SSE streaming, human approval of paused tool calls, thread management,
// graph visualization and Prometheus metrics.
package api
