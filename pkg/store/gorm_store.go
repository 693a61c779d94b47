package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"novelink/pkg/domain"
)

// GormStore implements Store on GORM. Postgres in production; sqlite for
// development and tests, chosen from the DSN.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database dsn required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialectorFor(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &BookModel{}, &ReviewModel{}, &SuggestionModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func dialectorFor(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// SaveUser registers or updates a user. ID conflicts upsert; a remaining
// duplicate-key error is the email unique index firing.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "name", "email", "password_hash", "profile_image", "updated_at"}),
	}).Create(&model).Error
	if err != nil && isDuplicateKey(err) {
		return ErrDuplicateEmail
	}
	return err
}

// HasUserEmail checks if email exists anywhere in the principal store.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveBook stores or updates a book.
func (s *GormStore) SaveBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"author_id", "title", "isbn", "genre", "manuscript_ref", "cover_ref", "status", "draft", "updated_at"}),
	}).Create(&model).Error
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns all books ordered by created_at.
func (s *GormStore) ListBooks() ([]domain.Book, error) {
	return s.listBooks()
}

// ListBooksByAuthor returns books owned by one author.
func (s *GormStore) ListBooksByAuthor(authorID string) ([]domain.Book, error) {
	return s.listBooks("author_id = ?", authorID)
}

// SearchBooks matches title, genre, or ISBN substrings case-insensitively.
func (s *GormStore) SearchBooks(query string) ([]domain.Book, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.listBooks()
	}
	pattern := "%" + strings.ToLower(query) + "%"
	return s.listBooks("LOWER(title) LIKE ? OR LOWER(genre) LIKE ? OR LOWER(isbn) LIKE ?", pattern, pattern, pattern)
}

func (s *GormStore) listBooks(conds ...any) ([]domain.Book, error) {
	var models []BookModel
	tx := s.db.Order("created_at ASC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// DeleteBook removes a book and its reviews in one transaction.
func (s *GormStore) DeleteBook(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ReviewModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&BookModel{}, "id = ?", id).Error
	})
}

// SetAverageRating writes the recomputed mean onto the book record.
func (s *GormStore) SetAverageRating(bookID string, avg float64) error {
	return s.db.Model(&BookModel{}).
		Where("id = ?", bookID).
		Updates(map[string]any{
			"average_rating": avg,
			"updated_at":     time.Now().UTC(),
		}).Error
}

// CreateReview inserts a new review. The unique (book_id, customer_id)
// index decides the winner between concurrent duplicate submissions.
func (s *GormStore) CreateReview(r domain.Review) error {
	model := reviewToModel(r)
	if err := s.db.Create(&model).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateReview
		}
		return err
	}
	return nil
}

// SaveReview updates an existing review in place.
func (s *GormStore) SaveReview(r domain.Review) error {
	model := reviewToModel(r)
	return s.db.Model(&ReviewModel{}).
		Where("id = ?", r.ID).
		Updates(map[string]any{
			"rating":     model.Rating,
			"comment":    model.Comment,
			"updated_at": model.UpdatedAt,
		}).Error
}

// GetReview retrieves one review.
func (s *GormStore) GetReview(id string) (domain.Review, bool, error) {
	var model ReviewModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Review{}, false, nil
		}
		return domain.Review{}, false, err
	}
	return reviewFromModel(model), true, nil
}

// ListReviewsByBook returns reviews for a book, oldest first.
func (s *GormStore) ListReviewsByBook(bookID string) ([]domain.Review, error) {
	var models []ReviewModel
	if err := s.db.Where("book_id = ?", bookID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Review, 0, len(models))
	for _, m := range models {
		res = append(res, reviewFromModel(m))
	}
	return res, nil
}

// DeleteReview removes one review.
func (s *GormStore) DeleteReview(id string) error {
	return s.db.Delete(&ReviewModel{}, "id = ?", id).Error
}

// AverageRating computes the mean rating over a book's reviews via an
// aggregation query; 0 when no reviews remain.
func (s *GormStore) AverageRating(bookID string) (float64, error) {
	var avg float64
	err := s.db.Model(&ReviewModel{}).
		Where("book_id = ?", bookID).
		Select("COALESCE(AVG(rating), 0)").
		Scan(&avg).Error
	if err != nil {
		return 0, err
	}
	return avg, nil
}

// SaveSuggestion appends one AI interaction record.
func (s *GormStore) SaveSuggestion(sg domain.Suggestion) error {
	model := suggestionToModel(sg)
	return s.db.Create(&model).Error
}

// ListSuggestionsByUser returns a user's latest suggestions.
func (s *GormStore) ListSuggestionsByUser(userID string, limit int) ([]domain.Suggestion, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []SuggestionModel
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Suggestion, 0, len(models))
	for _, m := range models {
		res = append(res, suggestionFromModel(m))
	}
	return res, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Role:         string(u.Role),
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		ProfileImage: u.ProfileImage,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Role:         domain.Role(m.Role),
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		ProfileImage: m.ProfileImage,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:            b.ID,
		AuthorID:      b.AuthorID,
		Title:         b.Title,
		ISBN:          b.ISBN,
		Genre:         b.Genre,
		ManuscriptRef: b.ManuscriptRef,
		CoverRef:      b.CoverRef,
		AverageRating: b.AverageRating,
		Status:        string(b.Status),
		Draft:         b.Draft,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	status := domain.BookStatus(m.Status)
	if status == "" {
		status = domain.StatusDraft
	}
	return domain.Book{
		ID:            m.ID,
		AuthorID:      m.AuthorID,
		Title:         m.Title,
		ISBN:          m.ISBN,
		Genre:         m.Genre,
		ManuscriptRef: m.ManuscriptRef,
		CoverRef:      m.CoverRef,
		AverageRating: m.AverageRating,
		Status:        status,
		Draft:         m.Draft,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func reviewToModel(r domain.Review) ReviewModel {
	return ReviewModel{
		ID:         r.ID,
		BookID:     r.BookID,
		CustomerID: r.CustomerID,
		Rating:     r.Rating,
		Comment:    r.Comment,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func reviewFromModel(m ReviewModel) domain.Review {
	return domain.Review{
		ID:         m.ID,
		BookID:     m.BookID,
		CustomerID: m.CustomerID,
		Rating:     m.Rating,
		Comment:    m.Comment,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func suggestionToModel(s domain.Suggestion) SuggestionModel {
	meta, _ := json.Marshal(s.Meta)
	return SuggestionModel{
		ID:        s.ID,
		UserID:    s.UserID,
		BookID:    s.BookID,
		Kind:      string(s.Kind),
		Prompt:    s.Prompt,
		Result:    s.Result,
		Meta:      meta,
		CreatedAt: s.CreatedAt,
	}
}

func suggestionFromModel(m SuggestionModel) domain.Suggestion {
	var meta map[string]string
	if len(m.Meta) > 0 {
		_ = json.Unmarshal(m.Meta, &meta)
	}
	return domain.Suggestion{
		ID:        m.ID,
		UserID:    m.UserID,
		BookID:    m.BookID,
		Kind:      domain.SuggestionKind(m.Kind),
		Prompt:    m.Prompt,
		Result:    m.Result,
		Meta:      meta,
		CreatedAt: m.CreatedAt,
	}
}
