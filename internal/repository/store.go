package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store bundles the repositories touched by a quiz submission so they can share
// one database transaction.
type Store interface {
	Quizzes() QuizRepository
	Courses() CourseRepository
	Attempts() AttemptRepository
	Enrollments() EnrollmentRepository
	Progress() ProgressRepository
	Certificates() CertificateRepository
	WithinTransaction(ctx context.Context, fn func(tx Store) error) error
}

type gormStore struct {
	db *gorm.DB
}

// NewStore builds a store over the given connection.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Quizzes() QuizRepository             { return NewQuizRepository(s.db) }
func (s *gormStore) Courses() CourseRepository           { return NewCourseRepository(s.db) }
func (s *gormStore) Attempts() AttemptRepository         { return NewAttemptRepository(s.db) }
func (s *gormStore) Enrollments() EnrollmentRepository   { return NewEnrollmentRepository(s.db) }
func (s *gormStore) Progress() ProgressRepository        { return NewProgressRepository(s.db) }
func (s *gormStore) Certificates() CertificateRepository { return NewCertificateRepository(s.db) }

// WithinTransaction runs fn against a store bound to a single transaction.
// Returning an error from fn rolls everything back.
func (s *gormStore) WithinTransaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}
