package agent

import (
	"errors"
	"regexp"
	"strings"
)

const (
	finalAnswerPrefix = "Final Answer:"
	observationMarker = "\nObservation:"
)

var (
	actionPattern        = regexp.MustCompile(`(?s)Action\s*\d*\s*:[\s]*(.*?)[\s]*Action\s*\d*\s*Input\s*\d*\s*:[\s]*(.*)`)
	actionOnlyPattern    = regexp.MustCompile(`(?s)Action\s*\d*\s*:[\s]*(.*?)`)
	errMissingAction     = errors.New("invalid format: missing 'Action:' after 'Thought:'")
	errMissingActionArgs = errors.New("invalid format: missing 'Action Input:' after 'Action:'")
	errFinalAndAction    = errors.New("invalid format: reply has both a final answer and a parse-able action")
)

// decision is what one model reply asks the executor to do.
type decision struct {
	final  bool
	output string
	tool   string
	input  string
}

// truncateAtObservation drops anything the model wrote after inventing its
// own observation.
func truncateAtObservation(text string) string {
	if i := strings.Index(text, observationMarker); i >= 0 {
		return text[:i]
	}
	return text
}

// parseReply reads a ReAct reply. A final answer wins when it appears before
// any action; one that follows an action is rejected.
func parseReply(text string) (decision, error) {
	finalAt := strings.Index(text, finalAnswerPrefix)
	loc := actionPattern.FindStringSubmatchIndex(text)

	if finalAt >= 0 && (loc == nil || finalAt < loc[0]) {
		return decision{
			final:  true,
			output: strings.TrimSpace(text[finalAt+len(finalAnswerPrefix):]),
		}, nil
	}
	if loc != nil {
		if finalAt >= 0 {
			return decision{}, errFinalAndAction
		}
		tool := strings.TrimSpace(text[loc[2]:loc[3]])
		input := strings.TrimSpace(text[loc[4]:loc[5]])
		input = strings.Trim(input, `"`)
		return decision{tool: tool, input: input}, nil
	}
	if !actionOnlyPattern.MatchString(text) {
		return decision{}, errMissingAction
	}
	return decision{}, errMissingActionArgs
}
