package stage

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/conductor-ai/conductor/domain"
	"github.com/conductor-ai/conductor/graph"
	"github.com/conductor-ai/conductor/llm"
)

// summarizeNode writes the final run summary from the commit log. With an
// llm client configured the summary is phrased by it; otherwise, or when
// the completion fails, a deterministic one is built locally.
func (d Deps) summarizeNode(ctx context.Context, state *domain.RunState) (graph.Outcome, error) {
	summary := plainSummary(state.Output.Commits)

	if d.LLM != nil {
		phrased, err := d.LLM.Complete(ctx, llm.CompletionRequest{
			Messages: []llm.Message{
				{Role: "system", Content: "Summarize the completed actions for the user in one or two sentences."},
				{Role: "user", Content: commitLog(state.Output.Commits)},
			},
			MaxTokens: 200,
		})
		if err != nil {
			log.Printf("WARN: run %s: summary completion failed, using plain summary: %v", state.Ctx.RunID, err)
		} else if phrased != "" {
			summary = phrased
		}
	}

	output := state.Output
	output.Summary = summary
	output.Diff = commitDiff(state.Output.Commits)
	return graph.Continue(domain.Delta{Output: &output}), nil
}

// commitDiff renders the commit log as a unified change listing: one line
// per step, "+" for executed calls and "~" for skipped ones.
func commitDiff(commits []domain.Commit) string {
	var b strings.Builder
	for i, c := range commits {
		if i > 0 {
			b.WriteString("\n")
		}
		if c.Skipped {
			fmt.Fprintf(&b, "~ %s %s (%s)", c.StepID, c.Tool, c.Reason)
			continue
		}
		fmt.Fprintf(&b, "+ %s %s", c.StepID, c.Tool)
	}
	return b.String()
}

func plainSummary(commits []domain.Commit) string {
	done, skipped := 0, 0
	for _, c := range commits {
		if c.Skipped {
			skipped++
		} else {
			done++
		}
	}
	if skipped == 0 {
		return fmt.Sprintf("Completed %d step(s).", done)
	}
	return fmt.Sprintf("Completed %d step(s), %d skipped.", done, skipped)
}

func commitLog(commits []domain.Commit) string {
	var b strings.Builder
	for _, c := range commits {
		if c.Skipped {
			fmt.Fprintf(&b, "%s (%s): skipped (%s)\n", c.StepID, c.Tool, c.Reason)
			continue
		}
		fmt.Fprintf(&b, "%s (%s): done\n", c.StepID, c.Tool)
	}
	return b.String()
}
