package agent

import (
	"fmt"
	"strings"

	"incident-agent/internal/tools"
)

// reactTemplate is the tool-use scaffold wrapped around every investigation
// input. The protocol: the model either selects exactly one tool or emits a
// final answer, never both.
const reactTemplate = `Answer the following question as best you can. You have access to the following tools:

%s

Use the following format:

Question: the input question you must answer
Thought: you should always think about what to do
Action: the action to take, should be one of [%s]
Action Input: the input to the action
Observation: the result of the action
... (this Thought/Action/Action Input/Observation can repeat N times)
Thought: I now know the final answer
Final Answer: the final answer to the original input question

Begin!

Question: %s
Thought: %s`

// renderPrompt assembles the full prompt for one model turn: tool
// descriptions, the protocol, the investigation input, and the scratchpad of
// steps taken so far.
func renderPrompt(registry tools.Registry, input, scratchpad string) string {
	var descs []string
	for _, t := range registry {
		descs = append(descs, fmt.Sprintf("%s: %s", t.Name(), t.Description()))
	}
	return fmt.Sprintf(reactTemplate,
		strings.Join(descs, "\n"),
		strings.Join(registry.Names(), ", "),
		input,
		scratchpad,
	)
}
