package store

import (
	"errors"

	"novelink/pkg/domain"
)

// ErrDuplicateReview is returned when a (book, customer) pair already has a
// review. The database unique index is the arbiter under concurrency.
var ErrDuplicateReview = errors.New("review already exists for this book and customer")

// ErrDuplicateEmail is returned when a user write collides with the global
// email unique index, the arbiter for concurrent registrations.
var ErrDuplicateEmail = errors.New("email already in use")

// Store is the persistence boundary for principals, books, reviews, and
// AI suggestion history.
type Store interface {
	SaveUser(u domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	SaveBook(b domain.Book) error
	GetBook(id string) (domain.Book, bool, error)
	ListBooks() ([]domain.Book, error)
	ListBooksByAuthor(authorID string) ([]domain.Book, error)
	SearchBooks(query string) ([]domain.Book, error)
	DeleteBook(id string) error
	SetAverageRating(bookID string, avg float64) error

	CreateReview(r domain.Review) error
	SaveReview(r domain.Review) error
	GetReview(id string) (domain.Review, bool, error)
	ListReviewsByBook(bookID string) ([]domain.Review, error)
	DeleteReview(id string) error
	AverageRating(bookID string) (float64, error)

	SaveSuggestion(s domain.Suggestion) error
	ListSuggestionsByUser(userID string, limit int) ([]domain.Suggestion, error)
}
