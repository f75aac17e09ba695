package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// operatingProcedure is the fixed preamble embedded into every investigation
// prompt. It fixes the agent's persona and rules of engagement; the tool-use
// response format is supplied by the executor's own scaffold.
const operatingProcedure = `You are an autonomous incident diagnostic agent, a Level 1 Site Reliability Engineer (SRE).
Your sole mission is to investigate and determine the root cause of production alerts.

Your persona:
- You are technical, methodical, and precise.
- You communicate in clear, concise language.
- You form a hypothesis and use tools to gather evidence to prove or disprove it.

Rules of engagement:
1. Analyze the alert: start by carefully reading the alert data below, a JSON object containing the production alert details.
2. Consult runbooks first: your first step should ALWAYS be to use the search_runbooks tool.
3. Use your tools: follow the procedure from the runbook. Use the provided tools to gather metrics, logs, and system states.
4. Reason step by step: think through your findings at each step. If you get new information, state how it changes your hypothesis.
5. Synthesize and conclude: once you have gathered sufficient evidence, provide the final root cause as your final answer.`

// investigationInput builds the input for one investigation from the raw
// alert payload.
func investigationInput(rawAlert []byte) string {
	pretty := prettyJSON(rawAlert)
	return fmt.Sprintf("%s\n\nAn alert has fired. Here is the alert data in JSON format:\n%s\n\nPlease investigate and determine the root cause, following all rules. Begin!",
		operatingProcedure, pretty)
}

// prettyJSON indents a JSON document for readability; non-JSON input is
// passed through untouched.
func prettyJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
