package session

import (
	"fmt"
	"strings"

	"github.com/opencode-ai/threadbridge/internal/executor"
	"github.com/opencode-ai/threadbridge/internal/platform"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

func formatTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func formatCost(c float64) string {
	return fmt.Sprintf("%.4f", c)
}

// answersInstruction is what the agent receives when a question set is done.
func answersInstruction(done executor.QuestionsComplete) string {
	var b strings.Builder
	if done.Abandoned {
		b.WriteString("Your questions could not be shown to the user. Continue without the missing answers or ask in plain text.\n")
	} else {
		b.WriteString("The user answered your questions:\n")
	}
	for _, a := range done.Answers {
		answer := a.Answer
		if answer == "" && done.Abandoned {
			answer = "(not answered)"
		}
		fmt.Fprintf(&b, "- %s: %s\n", a.Header, answer)
	}
	return strings.TrimRight(b.String(), "\n")
}

func approvalInstruction(done executor.ApprovalComplete) string {
	what := "the action"
	if done.Kind == types.ApprovalPlan {
		what = "the plan"
	}
	if done.Approved {
		return fmt.Sprintf("The user approved %s. Proceed.", what)
	}
	return fmt.Sprintf("The user rejected %s. Do not proceed; ask what to change.", what)
}

// userInstruction renders an inbound message for the agent, listing any
// attachments after the text.
func userInstruction(msg platform.InboundMessage) string {
	if len(msg.Attachments) == 0 {
		return msg.Text
	}
	var b strings.Builder
	b.WriteString(msg.Text)
	b.WriteString("\n\nAttachments:")
	for _, a := range msg.Attachments {
		b.WriteString("\n- ")
		b.WriteString(a.Name)
		if a.URL != "" {
			b.WriteString(" (")
			b.WriteString(a.URL)
			b.WriteString(")")
		}
	}
	return b.String()
}

const helpText = `**Commands**
` + "`!stop`" + ` end the session
` + "`!kill`" + ` end the session immediately
` + "`!escape`" + ` interrupt the current turn
` + "`!restart`" + ` restart the agent and resume the conversation
` + "`!invite @user`" + ` let a user talk to the agent
` + "`!kick @user`" + ` revoke a user
` + "`!help`" + ` show this list`
