// Package agent defines the built-in conversational graphs: a plain
// chatbot, tool-calling variants with and without checkpointed memory,
// and ReAct agents including a human-in-the-loop flavor whose tool
// calls pause for approval. Builders share one decide/execute loop and
// accept options for system prompts, structured output and knowledge
// injection.
package agent
