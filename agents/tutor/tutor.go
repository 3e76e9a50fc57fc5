// Package tutor implements the Tutor agent: wraps the Reporter's final
// answer with one of four interaction types selected by analyzing recent
// queries for a copying pattern, using a plain trigram Jaccard similarity
// heuristic.
package tutor

import (
	"context"
	"strings"

	"github.com/coursetutor/ragdebate/agents/reporter"
	"github.com/coursetutor/ragdebate/llm"
)

// InteractionType is the four-way alphabet of tutor interaction kinds.
type InteractionType string

const (
	Guide      InteractionType = "guide"
	Standard   InteractionType = "standard"
	Test       InteractionType = "test"
	Discipline InteractionType = "discipline"
)

const (
	copyingSimilarityThreshold   = 0.8
	consecutiveSimilarThreshold  = 3
	learningTipsCount            = 3
	quizQuestionCount            = 2
	cooldownMessage              = "Let's pause the quick answers for a moment. Try working through the next question on your own first, then come back if you're still stuck — that's how the material actually sticks."
)

// ElementType enumerates the typed output sequence's element kinds.
type ElementType string

const (
	TextElement    ElementType = "text"
	AnswerElement  ElementType = "answer"
	QuizElement    ElementType = "quiz"
	CooldownElement ElementType = "cooldown_message"
)

// Element is one item in the Tutor's output sequence.
type Element struct {
	Type    ElementType
	Content string
}

// QuizQuestion is one multiple-choice question inserted in test mode.
type QuizQuestion struct {
	Question    string
	Choices     []string
	Answer      string
	Explanation string
}

// Input bundles what the Tutor needs: the final answer and the recent
// query history for pattern analysis.
type Input struct {
	RecentQueries []string
	Answer        reporter.Answer
}

// Interaction is the Tutor's full output: the selected interaction type
// and the rendered element sequence.
type Interaction struct {
	Type     InteractionType
	Elements []Element
}

// Run selects an interaction type from the recent-query pattern and
// assembles the typed element sequence, including a learning-tips call
// and (in test mode) a generated quiz.
func Run(ctx context.Context, client llm.Client, in Input) (Interaction, error) {
	interactionType := selectInteractionType(in.RecentQueries)

	var elements []Element

	switch interactionType {
	case Guide:
		elements = append(elements, Element{Type: TextElement, Content: warmUpQuestion(in.RecentQueries)})
		elements = append(elements, Element{Type: AnswerElement, Content: in.Answer.StepByStepSolution})
	case Standard:
		if q := optionalGuideQuestion(in.RecentQueries); q != "" {
			elements = append(elements, Element{Type: TextElement, Content: q})
		}
		elements = append(elements, Element{Type: AnswerElement, Content: in.Answer.StepByStepSolution})
	case Test:
		elements = append(elements, Element{Type: AnswerElement, Content: in.Answer.StepByStepSolution})
		quiz, err := generateQuiz(ctx, client, in.Answer.StepByStepSolution)
		if err == nil {
			elements = append(elements, Element{Type: QuizElement, Content: formatQuiz(quiz)})
		}
	case Discipline:
		elements = append(elements, Element{Type: CooldownElement, Content: cooldownMessage})
		elements = append(elements, Element{Type: AnswerElement, Content: in.Answer.StepByStepSolution})
	}

	tips, err := generateLearningTips(ctx, client, in.Answer.StepByStepSolution)
	if err == nil {
		for _, t := range tips {
			elements = append(elements, Element{Type: TextElement, Content: t})
		}
	}

	return Interaction{Type: interactionType, Elements: elements}, nil
}

// selectInteractionType inspects recent queries for a copying pattern
// (repeated near-identical questions) and picks the interaction type
// accordingly.
func selectInteractionType(recentQueries []string) InteractionType {
	if len(recentQueries) == 0 {
		return Guide
	}

	consecutive := consecutiveSimilarCount(recentQueries)
	if consecutive >= consecutiveSimilarThreshold {
		return Discipline
	}

	if hasHighSimilarityPair(recentQueries) {
		return Test
	}

	return Standard
}

// consecutiveSimilarCount counts the longest run of consecutive queries
// (from the end) whose pairwise similarity exceeds the copying
// threshold.
func consecutiveSimilarCount(queries []string) int {
	if len(queries) < 2 {
		return 0
	}
	run := 1
	for i := len(queries) - 1; i > 0; i-- {
		if trigramSimilarity(queries[i], queries[i-1]) > copyingSimilarityThreshold {
			run++
		} else {
			break
		}
	}
	return run
}

func hasHighSimilarityPair(queries []string) bool {
	if len(queries) < 2 {
		return false
	}
	last := queries[len(queries)-1]
	for i := 0; i < len(queries)-1; i++ {
		if trigramSimilarity(last, queries[i]) > copyingSimilarityThreshold {
			return true
		}
	}
	return false
}

// trigramSimilarity computes Jaccard similarity over character
// trigrams, a cheap, dependency-free proxy for "these two questions are
// basically the same question".
func trigramSimilarity(a, b string) float64 {
	ta := trigramSet(a)
	tb := trigramSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	intersection := 0
	for t := range ta {
		if tb[t] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func trigramSet(s string) map[string]bool {
	s = strings.ToLower(strings.TrimSpace(s))
	set := make(map[string]bool)
	runes := []rune(s)
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = true
	}
	return set
}

func warmUpQuestion(recentQueries []string) string {
	return "Before we dive in — what do you already know about this topic, and what made you curious about it?"
}

func optionalGuideQuestion(recentQueries []string) string {
	if len(recentQueries) == 0 {
		return ""
	}
	return "What have you tried so far on this one?"
}

func generateQuiz(ctx context.Context, client llm.Client, answerText string) ([]QuizQuestion, error) {
	prompt := "Write " + itoa(quizQuestionCount) + " short multiple-choice questions testing understanding of the following answer. For each, give the question, the choices, the correct answer, and a one-sentence explanation.\n\n" + answerText
	out, err := client.Generate(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return nil, err
	}
	return parseQuiz(out), nil
}

func parseQuiz(text string) []QuizQuestion {
	var questions []QuizQuestion
	var current *QuizQuestion
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Q:"), strings.HasPrefix(trimmed, "Question:"):
			questions = append(questions, QuizQuestion{Question: stripLabel(trimmed)})
			current = &questions[len(questions)-1]
		case current == nil:
			continue
		case strings.HasPrefix(trimmed, "A:"), strings.HasPrefix(trimmed, "Answer:"):
			current.Answer = stripLabel(trimmed)
		case strings.HasPrefix(trimmed, "Explanation:"):
			current.Explanation = stripLabel(trimmed)
		case strings.HasPrefix(trimmed, "-"):
			current.Choices = append(current.Choices, strings.TrimSpace(strings.TrimPrefix(trimmed, "-")))
		}
	}
	if len(questions) > quizQuestionCount {
		questions = questions[:quizQuestionCount]
	}
	return questions
}

func stripLabel(line string) string {
	if idx := strings.Index(line, ":"); idx >= 0 {
		return strings.TrimSpace(line[idx+1:])
	}
	return line
}

func formatQuiz(questions []QuizQuestion) string {
	var b strings.Builder
	for i, q := range questions {
		b.WriteString(itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(q.Question)
		b.WriteString("\n")
		for _, c := range q.Choices {
			b.WriteString("   - ")
			b.WriteString(c)
			b.WriteString("\n")
		}
		b.WriteString("   Answer: ")
		b.WriteString(q.Answer)
		b.WriteString(" (")
		b.WriteString(q.Explanation)
		b.WriteString(")\n")
	}
	return b.String()
}

func generateLearningTips(ctx context.Context, client llm.Client, answerText string) ([]string, error) {
	prompt := "Give exactly " + itoa(learningTipsCount) + " short, concrete study tips related to the following answer, one per line, no numbering.\n\n" + answerText
	out, err := client.Generate(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return nil, err
	}

	var tips []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		tips = append(tips, line)
		if len(tips) == learningTipsCount {
			break
		}
	}
	return tips, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
