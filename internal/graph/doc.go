// Package graph implements the conversational state machine that drives
// every agent in the system. A graph is a set of named nodes connected by
// static and conditional edges; each node reads the thread's message state
// and appends new messages. Execution is checkpointed per thread so that a
// run can be suspended for human approval and resumed later, replaying the
// interrupted node with a consume-once resume decision.
package graph
