package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/gema-lms-api/internal/config"
	"github.com/noah-isme/gema-lms-api/internal/database"
	"github.com/noah-isme/gema-lms-api/internal/handler"
	"github.com/noah-isme/gema-lms-api/internal/models"
	"github.com/noah-isme/gema-lms-api/internal/repository"
	"github.com/noah-isme/gema-lms-api/internal/router"
	"github.com/noah-isme/gema-lms-api/internal/service"
)

const testUserHeader = "X-Test-User"

// lmsApp is a fully wired API over sqlite with one enrolled learner whose only
// lesson is complete. The quiz has a 1 point single choice and a 2 point multi
// choice question.
type lmsApp struct {
	app *fiber.App
	db  *gorm.DB

	learnerID string
	courseID  string
	quizID    string

	singleID      string
	singleCorrect string
	singleWrong   string
	multiID       string
	multiA        string
	multiB        string
	multiC        string
}

func setupLMSApp(t *testing.T, checks ...handler.DependencyCheck) lmsApp {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	a := lmsApp{db: db}
	a.seed(t)

	log := zerolog.New(io.Discard)
	validate := validator.New(validator.WithRequiredStructEnabled())

	store := repository.NewStore(db)
	users := repository.NewUserRepository(db)
	catalog := service.NewQuizCatalog(store.Quizzes(), store.Courses(), nil, time.Minute, log)
	certificates := service.NewCertificateService(store.Certificates(), users, nil, log)
	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), service.NotificationOptions{Users: users}, validate, log)
	submissions := service.NewQuizSubmissionService(store, catalog, certificates, notifications, validate, log)
	attempts := service.NewQuizAttemptService(store.Attempts(), store.Enrollments(), catalog, log)

	a.app = fiber.New()
	router.Register(a.app, config.Config{AppName: "Test", AppEnv: "test", JWTSecret: "secret"}, router.Dependencies{
		QuizHandler:         handler.NewQuizHandler(submissions, attempts, log, handler.QuizHandlerOptions{}),
		CertificateHandler:  handler.NewCertificateHandler(certificates, log),
		NotificationHandler: handler.NewNotificationHandler(notifications, log, time.Second),
		HealthChecks:        checks,
		DisableMetrics:      true,
		JWTMiddleware: func(c *fiber.Ctx) error {
			if id := c.Get(testUserHeader); id != "" {
				c.Locals("user_id", id)
			}
			return c.Next()
		},
	})

	return a
}

func (a *lmsApp) seed(t *testing.T) {
	t.Helper()
	db := a.db

	a.learnerID = "learner-" + uuid.NewString()[:8]
	require.NoError(t, db.Create(&models.User{ID: a.learnerID, Name: "Grace Hopper", Email: a.learnerID + "@example.com"}).Error)

	course := models.Course{Title: "Compilers 101"}
	require.NoError(t, db.Create(&course).Error)
	a.courseID = course.ID

	module := models.Module{CourseID: course.ID, Title: "Parsing"}
	require.NoError(t, db.Create(&module).Error)
	lesson := models.Lesson{ModuleID: module.ID, Title: "Lexers"}
	require.NoError(t, db.Create(&lesson).Error)

	completedAt := time.Now().UTC()
	require.NoError(t, db.Create(&models.Progress{UserID: a.learnerID, LessonID: lesson.ID, Status: models.ProgressStatusCompleted, CompletedAt: &completedAt}).Error)
	require.NoError(t, db.Create(&models.Enrollment{UserID: a.learnerID, CourseID: course.ID}).Error)

	quiz := models.Quiz{CourseID: course.ID, Title: "Parsing quiz"}
	require.NoError(t, db.Omit("Questions").Create(&quiz).Error)
	a.quizID = quiz.ID

	single := models.Question{QuizID: quiz.ID, Type: models.QuestionTypeSingleChoice, Prompt: "Which stage produces tokens?", ExplanationHTML: "<p>The <em>lexer</em></p>", Points: 1, Position: 0}
	multi := models.Question{QuizID: quiz.ID, Type: models.QuestionTypeMultiChoice, Prompt: "Which grammars are context free?", ExplanationHTML: "<p>BNF and EBNF</p>", Points: 2, Position: 1}
	require.NoError(t, db.Omit("Options").Create(&single).Error)
	require.NoError(t, db.Omit("Options").Create(&multi).Error)
	a.singleID, a.multiID = single.ID, multi.ID

	option := func(questionID, label string, correct bool, position int) string {
		o := models.Option{QuestionID: questionID, Label: label, IsCorrect: correct, Position: position}
		require.NoError(t, db.Create(&o).Error)
		return o.ID
	}
	a.singleCorrect = option(single.ID, "lexer", true, 0)
	a.singleWrong = option(single.ID, "linker", false, 1)
	a.multiA = option(multi.ID, "BNF", true, 0)
	a.multiB = option(multi.ID, "EBNF", true, 1)
	a.multiC = option(multi.ID, "regex", false, 2)
}

func (a lmsApp) request(t *testing.T, method, path, userID string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(testUserHeader, userID)
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (a lmsApp) startAttempt(t *testing.T) string {
	t.Helper()

	resp := a.request(t, http.MethodPost, "/api/v2/quizzes/"+a.quizID+"/attempts", a.learnerID, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var payload struct {
		Attempt struct {
			ID string `json:"id"`
		} `json:"attempt"`
	}
	decodeBody(t, resp, &payload)
	require.NotEmpty(t, payload.Attempt.ID)
	return payload.Attempt.ID
}

func (a lmsApp) submitBody(attemptID string, singleOption string) map[string]interface{} {
	return map[string]interface{}{
		"attemptId": attemptID,
		"answers": []map[string]interface{}{
			{"questionId": a.singleID, "optionIds": []string{singleOption}},
			{"questionId": a.multiID, "optionIds": []string{a.multiB, a.multiA}},
		},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}
