package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// decision is one parsed model turn: either a final answer or a tool action.
type decision struct {
	finalAnswer string
	action      string
	actionInput string
}

// parseErr marks model output the executor may recover from by injecting a
// corrective observation and asking again.
type parseErr struct {
	reason string
}

func (e *parseErr) Error() string { return "unparseable model output: " + e.reason }

var actionRe = regexp.MustCompile(`(?s)Action\s*\d*\s*:\s*(.*?)\s*Action\s*\d*\s*Input\s*\d*\s*:\s*(.*)`)

const finalAnswerMarker = "Final Answer:"

// parseDecision extracts the agent's next move from raw model output. The
// model must pick exactly one of the two response formats; anything else is a
// recoverable parse error.
func parseDecision(output string) (decision, error) {
	hasFinal := strings.Contains(output, finalAnswerMarker)
	actionMatch := actionRe.FindStringSubmatch(output)

	switch {
	case hasFinal && actionMatch != nil:
		return decision{}, &parseErr{reason: "both an Action and a Final Answer were produced"}
	case hasFinal:
		_, after, _ := strings.Cut(output, finalAnswerMarker)
		return decision{finalAnswer: strings.TrimSpace(after)}, nil
	case actionMatch != nil:
		action := strings.TrimSpace(actionMatch[1])
		// The model sometimes keeps generating past its own turn; cut the
		// input at the first hallucinated observation.
		input := actionMatch[2]
		if idx := strings.Index(input, "\nObservation:"); idx >= 0 {
			input = input[:idx]
		}
		return decision{action: action, actionInput: strings.TrimSpace(input)}, nil
	default:
		return decision{}, &parseErr{reason: "neither an Action nor a Final Answer was found"}
	}
}

// correctiveObservation is fed back to the model after a parse error so it
// can retry in the required format.
func correctiveObservation(err error) string {
	return fmt.Sprintf("Invalid response format (%v). You must respond with either "+
		"'Action:' followed by 'Action Input:', or 'Final Answer:'. Try again.", err)
}
