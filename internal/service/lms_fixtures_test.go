package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/gema-lms-api/internal/database"
	"github.com/noah-isme/gema-lms-api/internal/models"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newLMSTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// lmsFixture is a course with lessons, an enrollment and a three question quiz
// worth 1, 2 and 1 points.
type lmsFixture struct {
	learnerID  string
	course     models.Course
	lessons    []models.Lesson
	enrollment models.Enrollment
	quiz       models.Quiz

	singleID      string
	singleCorrect string
	singleWrong   string

	multiID string
	multiA  string
	multiB  string
	multiC  string

	shortID string
}

type fixtureOptions struct {
	lessons          int
	completedLessons int
	enroll           bool
	passMark         int
	passMarkOverride *int
	maxAttempts      *int
}

func defaultFixtureOptions() fixtureOptions {
	return fixtureOptions{lessons: 2, completedLessons: 2, enroll: true, passMark: 70}
}

func seedLMSFixture(t *testing.T, db *gorm.DB, opts fixtureOptions) lmsFixture {
	t.Helper()

	f := lmsFixture{learnerID: "learner-" + uuid.NewString()[:8]}

	require.NoError(t, db.Create(&models.User{ID: f.learnerID, Name: "Ada Lovelace", Email: f.learnerID + "@example.com"}).Error)

	passMark := opts.passMark
	f.course = models.Course{Title: "Intro to Go", PassMark: &passMark}
	require.NoError(t, db.Create(&f.course).Error)

	module := models.Module{CourseID: f.course.ID, Title: "Basics"}
	require.NoError(t, db.Create(&module).Error)

	for i := 0; i < opts.lessons; i++ {
		lesson := models.Lesson{ModuleID: module.ID, Title: fmt.Sprintf("Lesson %d", i+1), Position: i}
		require.NoError(t, db.Create(&lesson).Error)
		f.lessons = append(f.lessons, lesson)

		if i < opts.completedLessons {
			completedAt := time.Now().UTC()
			require.NoError(t, db.Create(&models.Progress{
				UserID:      f.learnerID,
				LessonID:    lesson.ID,
				Status:      models.ProgressStatusCompleted,
				CompletedAt: &completedAt,
			}).Error)
		}
	}

	if opts.enroll {
		f.enrollment = models.Enrollment{UserID: f.learnerID, CourseID: f.course.ID, Status: models.EnrollmentStatusAssigned}
		require.NoError(t, db.Create(&f.enrollment).Error)
	}

	f.quiz = models.Quiz{CourseID: f.course.ID, Title: "Basics check", PassMarkOverride: opts.passMarkOverride, MaxAttempts: opts.maxAttempts}
	require.NoError(t, db.Omit("Questions").Create(&f.quiz).Error)

	single := models.Question{QuizID: f.quiz.ID, Type: models.QuestionTypeSingleChoice, Prompt: "Zero value of int?", ExplanationHTML: "<p>It is <b>0</b></p><script>alert(1)</script>", Points: 1, Position: 0}
	multi := models.Question{QuizID: f.quiz.ID, Type: models.QuestionTypeMultiChoice, Prompt: "Reference types?", ExplanationHTML: "<p>Maps and slices</p>", Points: 2, Position: 1}
	short := models.Question{QuizID: f.quiz.ID, Type: models.QuestionTypeShortAnswer, Prompt: "Describe a goroutine", Points: 1, Position: 2}
	for _, question := range []*models.Question{&single, &multi, &short} {
		require.NoError(t, db.Omit("Options").Create(question).Error)
	}
	f.singleID, f.multiID, f.shortID = single.ID, multi.ID, short.ID

	createOption := func(questionID, label string, correct bool, position int) string {
		option := models.Option{QuestionID: questionID, Label: label, IsCorrect: correct, Position: position}
		require.NoError(t, db.Create(&option).Error)
		return option.ID
	}
	f.singleCorrect = createOption(single.ID, "0", true, 0)
	f.singleWrong = createOption(single.ID, "nil", false, 1)
	f.multiA = createOption(multi.ID, "map", true, 0)
	f.multiB = createOption(multi.ID, "slice", true, 1)
	f.multiC = createOption(multi.ID, "array", false, 2)

	return f
}

func (f lmsFixture) startAttempt(t *testing.T, db *gorm.DB) models.QuizAttempt {
	t.Helper()
	attempt := models.QuizAttempt{QuizID: f.quiz.ID, UserID: f.learnerID, StartedAt: time.Now().UTC()}
	require.NoError(t, db.Create(&attempt).Error)
	return attempt
}

type recordedNotification struct {
	kind     string
	userID   string
	courseID string
	number   string
	score    int
	maxScore int
}

type fakeCompletionNotifier struct {
	mu    sync.Mutex
	calls []recordedNotification
	err   error
}

func (f *fakeCompletionNotifier) NotifyCourseCompleted(ctx context.Context, userID, courseID, courseTitle string, score, maxScore int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedNotification{kind: models.NotificationTypeCourseCompleted, userID: userID, courseID: courseID, score: score, maxScore: maxScore})
	return f.err
}

func (f *fakeCompletionNotifier) NotifyCertificateIssued(ctx context.Context, userID, courseID, courseTitle, certificateNumber string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedNotification{kind: models.NotificationTypeCertificateIssued, userID: userID, courseID: courseID, number: certificateNumber})
	return f.err
}

func (f *fakeCompletionNotifier) snapshot() []recordedNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedNotification(nil), f.calls...)
}

type fakeUploader struct {
	mu      sync.Mutex
	name    string
	content []byte
	err     error
}

func (f *fakeUploader) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	f.name = name
	f.content = data
	return "https://cdn.example.com/" + name, nil
}

var errBoom = errors.New("boom")
