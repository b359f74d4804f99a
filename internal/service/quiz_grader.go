package service

import (
	"math"
	"sort"

	"github.com/noah-isme/gema-lms-api/internal/dto"
	"github.com/noah-isme/gema-lms-api/internal/models"
)

// GradedQuestion is the verdict for a single question of an attempt.
type GradedQuestion struct {
	Question      models.Question
	OptionIDs     []string
	ResponseText  string
	Answered      bool
	IsCorrect     bool
	PointsAwarded int
}

// GradeResult is the outcome of scoring one attempt.
type GradeResult struct {
	Score    int
	MaxScore int
	// Percentage is the unrounded score ratio. Rounded is reported to clients
	// and compared against the pass mark.
	Percentage float64
	Rounded    int
	PassMark   int
	Passed     bool
	Questions  []GradedQuestion
}

// GradeQuiz scores answers against every question of the quiz. Questions without
// an answer are graded as answered with nothing. Short answers are never
// auto-graded as correct.
func GradeQuiz(quiz models.Quiz, passMark int, answers []dto.QuizAnswerInput) GradeResult {
	byQuestion := make(map[string]dto.QuizAnswerInput, len(answers))
	for _, answer := range answers {
		if _, exists := byQuestion[answer.QuestionID]; !exists {
			byQuestion[answer.QuestionID] = answer
		}
	}

	result := GradeResult{
		PassMark:  passMark,
		Questions: make([]GradedQuestion, 0, len(quiz.Questions)),
	}

	for _, question := range quiz.Questions {
		result.MaxScore += question.Points

		graded := GradedQuestion{Question: question}
		if answer, ok := byQuestion[question.ID]; ok {
			graded.Answered = true
			graded.OptionIDs = answer.OptionIDs
			if answer.ResponseText != nil {
				graded.ResponseText = *answer.ResponseText
			}
		}

		graded.IsCorrect = isCorrectAnswer(question, graded.OptionIDs)
		if graded.IsCorrect {
			graded.PointsAwarded = question.Points
			result.Score += question.Points
		}

		result.Questions = append(result.Questions, graded)
	}

	result.Percentage = percentage(result.Score, result.MaxScore)
	result.Rounded = int(math.Round(result.Percentage))
	result.Passed = result.Rounded >= passMark

	return result
}

func isCorrectAnswer(question models.Question, submitted []string) bool {
	switch question.Type {
	case models.QuestionTypeSingleChoice, models.QuestionTypeTrueFalse:
		if len(submitted) != 1 || submitted[0] == "" {
			return false
		}
		for _, option := range question.Options {
			if option.IsCorrect {
				return option.ID == submitted[0]
			}
		}
		return false
	case models.QuestionTypeMultiChoice:
		correct := make([]string, 0, len(question.Options))
		for _, option := range question.Options {
			if option.IsCorrect {
				correct = append(correct, option.ID)
			}
		}
		if len(correct) == 0 {
			return false
		}
		return equalSets(uniqueSorted(submitted), uniqueSorted(correct))
	default:
		// short_answer and unknown types have no automatic grading.
		return false
	}
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func percentage(score, maxScore int) float64 {
	if maxScore <= 0 {
		return 0
	}
	return float64(score) / float64(maxScore) * 100
}
