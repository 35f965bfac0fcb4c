// Package llm contains adapters for invoking large language models. It
// abstracts away provider-specific APIs behind a single Client interface
// covering blocking, streaming, tool-calling and structured-output modes,
// so the graph runtime never depends on a concrete vendor.
package llm
