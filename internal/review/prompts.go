// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package review

import "github.com/agourakis82/beagle-sub000/internal/agent"

const (
	critiqueInstruction = `Read the draft below critically and identify:
- conceptual strengths
- methodological or conceptual weaknesses
- additional literature worth consulting

Answer in three Markdown sections: ## Strengths, ## Weaknesses, ## Suggested References. End with a line "Score: X.XX" rating the draft between 0 and 1.`

	rewriteInstruction = `You will receive a draft and a critique of it.
1. Rewrite the text to be clearer, more cohesive and more logical.
2. Incorporate the relevant suggestions from the critique.
3. Do not invent data or results; only reorganize and improve the text.

Answer only with the new text in Markdown.`

	adversarialInstruction = `You received the original draft, a rewritten draft and a critique. Act as a demanding reviewer for a top journal:
1. List serious problems of logical coherence, unsupported extrapolation and ambiguity.
2. Point out where the rewrite improved the text and where it made it worse.
3. Suggest targeted corrections.

Answer in Markdown with sections: ## Serious Problems, ## Rewrite Improvements, ## Targeted Suggestions. End with a line "Score: X.XX" between 0 and 1.`

	arbitrationInstruction = `You received the original draft, a rewritten draft, a critique and an adversarial review.
1. Produce a FINAL version of the text in Markdown that keeps the best of each.
2. Fix the serious problems raised by the adversarial review.
3. Keep the author's voice and do not invent data.

Answer only with the final text in Markdown.`
)

// buildPrompt renders the prompt of stage s from the input and the
// opinions gathered so far.
func buildTask(s Stage, in Input, critique, rewrite, adversarial string) agent.Task {
	task := agent.Task{}
	switch s {
	case StageCritique:
		task.Instruction = critiqueInstruction
		task = task.With("context", in.ContextSummary).With("draft", in.Draft)
	case StageRewrite:
		task.Instruction = rewriteInstruction
		task = task.With("critique", critique).With("draft", in.Draft)
	case StageAdversarialReview:
		task.Instruction = adversarialInstruction
		task = task.With("critique", critique).
			With("original draft", in.Draft).
			With("rewritten draft", rewrite)
	case StageArbitration:
		task.Instruction = arbitrationInstruction
		task = task.With("critique", critique).
			With("adversarial review", adversarial).
			With("original draft", in.Draft).
			With("rewritten draft", rewrite)
	}
	return task
}
