package rag

import (
	"fmt"
	"strings"

	"digitaltwin/internal/domain"
)

// InsufficientInformation is the fixed answer when retrieval produced no usable content.
const InsufficientInformation = "I don't have specific information to answer that question. Could you ask about my experience, skills, projects, or career goals?"

const untitled = "Information"

// EnhancementPrompt builds the query-rewrite instruction for question.
func EnhancementPrompt(question string) string {
	return fmt.Sprintf(`You are an interview preparation assistant that improves search queries.

Original question: "%s"

Enhance this query to better search professional profile data by:
- Adding relevant synonyms and related terms
- Expanding context for interview scenarios
- Including technical and soft skill variations
- Focusing on achievements and quantifiable results
- Adding STAR format elements (Situation, Task, Action, Result)

Return only the enhanced search query (no explanation, no quotes):`, question)
}

// InterviewPrompt builds the answer-generation instruction. directive may be empty.
func InterviewPrompt(question, contextBlock, directive string) string {
	var b strings.Builder
	b.WriteString("You are an expert interview coach. Create a compelling interview response using this professional data.\n\n")
	fmt.Fprintf(&b, "Question: \"%s\"\n", question)
	if directive != "" {
		fmt.Fprintf(&b, "Interview Context: %s\n", directive)
	}
	b.WriteString("\nProfessional Background Data:\n")
	b.WriteString(contextBlock)
	b.WriteString(`

Create a response that:
- Directly addresses the interview question in first person (speak as "I")
- Uses specific examples and quantifiable achievements from the data
- Applies STAR format (Situation-Task-Action-Result) when telling stories
- Sounds confident and natural for an interview setting
- Highlights unique value and differentiators
- Includes relevant technical details without being overwhelming
- Keeps response concise (2-3 paragraphs max)

Interview Response:`)
	return b.String()
}

// BuildContextBlock renders results as "title: body" paragraphs in retrieval
// order. Results with a blank body are skipped; an empty string means there
// is nothing to answer from.
func BuildContextBlock(results []domain.RetrievalResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		body := strings.TrimSpace(r.Content())
		if body == "" {
			continue
		}
		title := strings.TrimSpace(r.Title())
		if title == "" {
			title = untitled
		}
		parts = append(parts, title+": "+body)
	}
	return strings.Join(parts, "\n\n")
}

// cleanQuery trims model output and strips a pair of wrapping quotes.
func cleanQuery(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, `'`, "`"} {
		if len(s) >= 2 && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			s = strings.TrimSpace(s[1 : len(s)-1])
			break
		}
	}
	return s
}
