package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-lms-api/internal/models"
	"github.com/noah-isme/gema-lms-api/internal/repository"
)

const quizCacheKeyPrefix = "quiz:definition:"

// ErrQuizNotFound indicates the requested quiz does not exist.
var ErrQuizNotFound = errors.New("quiz not found")

// QuizCatalog resolves a quiz definition together with its owning course.
type QuizCatalog interface {
	Get(ctx context.Context, quizID string) (models.Quiz, models.Course, error)
}

type quizCatalog struct {
	quizzes repository.QuizRepository
	courses repository.CourseRepository
	cache   *redis.Client
	ttl     time.Duration
	logger  zerolog.Logger
}

type cachedQuiz struct {
	Quiz   models.Quiz   `json:"quiz"`
	Course models.Course `json:"course"`
}

// NewQuizCatalog builds a catalog. A nil redis client disables caching.
func NewQuizCatalog(quizzes repository.QuizRepository, courses repository.CourseRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) QuizCatalog {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &quizCatalog{
		quizzes: quizzes,
		courses: courses,
		cache:   cache,
		ttl:     ttl,
		logger:  logger.With().Str("component", "quiz_catalog").Logger(),
	}
}

func (c *quizCatalog) Get(ctx context.Context, quizID string) (models.Quiz, models.Course, error) {
	if cached, ok := c.fromCache(ctx, quizID); ok {
		return cached.Quiz, cached.Course, nil
	}

	quiz, err := c.quizzes.GetWithQuestions(ctx, quizID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Quiz{}, models.Course{}, ErrQuizNotFound
		}
		return models.Quiz{}, models.Course{}, err
	}

	course, err := c.courses.GetByID(ctx, quiz.CourseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Quiz{}, models.Course{}, ErrQuizNotFound
		}
		return models.Quiz{}, models.Course{}, err
	}

	c.store(ctx, quizID, cachedQuiz{Quiz: quiz, Course: course})

	return quiz, course, nil
}

func (c *quizCatalog) fromCache(ctx context.Context, quizID string) (cachedQuiz, bool) {
	if c.cache == nil {
		return cachedQuiz{}, false
	}

	raw, err := c.cache.Get(ctx, quizCacheKeyPrefix+quizID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("quiz_id", quizID).Msg("quiz cache read failed")
		}
		return cachedQuiz{}, false
	}

	var cached cachedQuiz
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.logger.Warn().Err(err).Str("quiz_id", quizID).Msg("discarding malformed quiz cache entry")
		return cachedQuiz{}, false
	}

	return cached, true
}

func (c *quizCatalog) store(ctx context.Context, quizID string, value cachedQuiz) {
	if c.cache == nil {
		return
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, quizCacheKeyPrefix+quizID, payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("quiz_id", quizID).Msg("quiz cache write failed")
	}
}
