package dto

import (
	"time"

	"github.com/noah-isme/gema-lms-api/internal/models"
)

// QuizAnswerInput is one learner answer inside a submission.
type QuizAnswerInput struct {
	QuestionID   string   `json:"questionId" validate:"required,max=64"`
	OptionIDs    []string `json:"optionIds" validate:"omitempty,dive,required,max=64"`
	ResponseText *string  `json:"responseText" validate:"omitempty,max=10000"`
}

// QuizSubmitRequest is the body of POST /quizzes/:id/submit.
type QuizSubmitRequest struct {
	AttemptID string            `json:"attemptId" validate:"required,max=64"`
	Answers   []QuizAnswerInput `json:"answers" validate:"omitempty,dive"`
}

// QuizAttemptSummary describes the scored attempt.
type QuizAttemptSummary struct {
	ID          string     `json:"id"`
	Score       int        `json:"score"`
	MaxScore    int        `json:"maxScore"`
	Percentage  int        `json:"percentage"`
	Passed      bool       `json:"passed"`
	SubmittedAt *time.Time `json:"submittedAt"`
}

// QuestionResult is the per-question verdict returned after submission.
type QuestionResult struct {
	QuestionID      string `json:"questionId"`
	IsCorrect       bool   `json:"isCorrect"`
	ExplanationHTML string `json:"explanationHtml"`
}

// QuizSubmitResponse is returned by the submit and attempt result endpoints.
type QuizSubmitResponse struct {
	Attempt QuizAttemptSummary `json:"attempt"`
	Results []QuestionResult   `json:"results"`
}

// NewQuizAttemptSummary converts a stored attempt into its summary.
func NewQuizAttemptSummary(model models.QuizAttempt) QuizAttemptSummary {
	summary := QuizAttemptSummary{
		ID:          model.ID,
		MaxScore:    model.MaxScore,
		Percentage:  model.Percentage,
		Passed:      model.Passed,
		SubmittedAt: model.SubmittedAt,
	}
	if model.Score != nil {
		summary.Score = *model.Score
	}
	return summary
}

// QuizOptionView hides correctness flags from learners.
type QuizOptionView struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// QuizQuestionView is a question as presented while an attempt is in progress.
type QuizQuestionView struct {
	ID      string           `json:"id"`
	Type    string           `json:"type"`
	Prompt  string           `json:"prompt"`
	Points  int              `json:"points"`
	Options []QuizOptionView `json:"options"`
}

// QuizView is the learner-facing quiz definition.
type QuizView struct {
	ID        string             `json:"id"`
	CourseID  string             `json:"courseId"`
	Title     string             `json:"title"`
	PassMark  int                `json:"passMark"`
	Questions []QuizQuestionView `json:"questions"`
}

// QuizAttemptStartResponse is returned when a learner opens a new attempt.
type QuizAttemptStartResponse struct {
	Attempt struct {
		ID        string    `json:"id"`
		QuizID    string    `json:"quizId"`
		StartedAt time.Time `json:"startedAt"`
	} `json:"attempt"`
	Quiz QuizView `json:"quiz"`
}

// NewQuizView strips correctness flags from a quiz definition.
func NewQuizView(quiz models.Quiz, passMark int) QuizView {
	view := QuizView{
		ID:        quiz.ID,
		CourseID:  quiz.CourseID,
		Title:     quiz.Title,
		PassMark:  passMark,
		Questions: make([]QuizQuestionView, 0, len(quiz.Questions)),
	}

	for _, question := range quiz.Questions {
		options := make([]QuizOptionView, 0, len(question.Options))
		for _, option := range question.Options {
			options = append(options, QuizOptionView{ID: option.ID, Label: option.Label})
		}
		view.Questions = append(view.Questions, QuizQuestionView{
			ID:      question.ID,
			Type:    question.Type,
			Prompt:  question.Prompt,
			Points:  question.Points,
			Options: options,
		})
	}

	return view
}
