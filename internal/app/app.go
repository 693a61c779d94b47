package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"novelink/internal/usertoken"
	"novelink/internal/util"
	"novelink/pkg/ai"
	"novelink/pkg/auth"
	"novelink/pkg/domain"
	"novelink/pkg/storage"
	"novelink/pkg/store"
)

// Config holds the collaborators the application core is wired with.
// Store, Tokens, and Uploader are required; Generator is optional and its
// absence turns the AI operations into ErrGeneratorUnavailable.
type Config struct {
	Store     store.Store
	Tokens    *usertoken.Manager
	Uploader  *storage.Uploader
	Files     *storage.FileStore
	Generator ai.TextGenerator
}

// App is the core application service wiring together persistence, token
// issuing, the upload pipeline, and the AI generator.
type App struct {
	store     store.Store
	tokens    *usertoken.Manager
	uploader  *storage.Uploader
	files     *storage.FileStore
	generator ai.TextGenerator
	httpc     *http.Client
}

// New constructs the application from explicit collaborators.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("app: store required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("app: token manager required")
	}
	if cfg.Uploader == nil {
		return nil, errors.New("app: uploader required")
	}
	return &App{
		store:     cfg.Store,
		tokens:    cfg.Tokens,
		uploader:  cfg.Uploader,
		files:     cfg.Files,
		generator: cfg.Generator,
		httpc:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Register creates a principal with the given role and issues a token.
// Email uniqueness is global across both roles.
func (a *App) Register(role domain.Role, name, email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	name = strings.TrimSpace(name)
	if email == "" || name == "" {
		return domain.User{}, "", fmt.Errorf("%w: name and email required", ErrValidation)
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", fmt.Errorf("%w: %s", ErrValidation, err)
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailAlreadyExists
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Role:         role,
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		// A concurrent registration can win the email index between the
		// existence check and the insert.
		if errors.Is(err, store.ErrDuplicateEmail) {
			return domain.User{}, "", ErrEmailAlreadyExists
		}
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.tokens.Issue(user.ID, string(user.Role))
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Login validates credentials and issues a token. A non-empty role pins
// the login to that role; a mismatch reads as invalid credentials so the
// endpoint does not leak which role an email belongs to.
func (a *App) Login(role domain.Role, email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if role != "" && user.Role != role {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.tokens.Issue(user.ID, string(user.Role))
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// UserFromToken resolves the principal behind a bearer token. A valid
// token whose subject no longer exists reads as unauthenticated.
func (a *App) UserFromToken(token string) (domain.User, error) {
	subject, roleStr, err := a.tokens.Verify(token)
	if err != nil {
		return domain.User{}, ErrUnauthenticated
	}
	role, ok := domain.ParseRole(roleStr)
	if !ok {
		return domain.User{}, ErrUnauthenticated
	}
	user, found, err := a.store.GetUserByID(subject)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !found || user.Role != role {
		return domain.User{}, ErrUnauthenticated
	}
	return user, nil
}

// UpdateProfile changes the display name and, when image bytes are given,
// runs the profile image through the upload pipeline.
func (a *App) UpdateProfile(ctx context.Context, user domain.User, name, imageFilename string, imageData []byte) (domain.User, error) {
	if name = strings.TrimSpace(name); name != "" {
		user.Name = name
	}
	if len(imageData) > 0 {
		res, err := a.uploader.Upload(ctx, storage.FieldImage, imageFilename, imageData)
		if err != nil {
			return domain.User{}, err
		}
		user.ProfileImage = res.Ref
	}
	user.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// CreateBookInput carries book metadata plus the raw multipart file bytes.
type CreateBookInput struct {
	Title string
	ISBN  string
	Genre string
	Draft bool

	ManuscriptFilename string
	ManuscriptData     []byte
	CoverFilename      string
	CoverData          []byte
}

// CreateBook uploads the manuscript and cover independently and persists
// the book. A remote upload failure degrades to a local reference and is
// not surfaced; orphaned blobs on a later persistence failure are accepted.
func (a *App) CreateBook(ctx context.Context, owner domain.User, input CreateBookInput) (domain.Book, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return domain.Book{}, fmt.Errorf("%w: title required", ErrValidation)
	}
	now := time.Now().UTC()
	book := domain.Book{
		ID:        util.NewID(),
		AuthorID:  owner.ID,
		Title:     title,
		ISBN:      strings.TrimSpace(input.ISBN),
		Genre:     strings.TrimSpace(input.Genre),
		Status:    domain.StatusPublished,
		Draft:     input.Draft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if input.Draft {
		book.Status = domain.StatusDraft
	}
	if len(input.ManuscriptData) > 0 {
		res, err := a.uploader.Upload(ctx, storage.FieldManuscript, input.ManuscriptFilename, input.ManuscriptData)
		if err != nil {
			return domain.Book{}, err
		}
		book.ManuscriptRef = res.Ref
	}
	if len(input.CoverData) > 0 {
		res, err := a.uploader.Upload(ctx, storage.FieldImage, input.CoverFilename, input.CoverData)
		if err != nil {
			return domain.Book{}, err
		}
		book.CoverRef = res.Ref
	}
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// UpdateBookInput carries the mutable metadata fields; nil file bytes
// leave the stored references untouched.
type UpdateBookInput struct {
	Title *string
	ISBN  *string
	Genre *string
	Draft *bool

	ManuscriptFilename string
	ManuscriptData     []byte
	CoverFilename      string
	CoverData          []byte
}

// UpdateBook applies metadata changes and optional re-uploads. Owner only.
func (a *App) UpdateBook(ctx context.Context, actor domain.User, bookID string, input UpdateBookInput) (domain.Book, error) {
	book, err := a.ownedBook(actor, bookID)
	if err != nil {
		return domain.Book{}, err
	}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return domain.Book{}, fmt.Errorf("%w: title required", ErrValidation)
		}
		book.Title = title
	}
	if input.ISBN != nil {
		book.ISBN = strings.TrimSpace(*input.ISBN)
	}
	if input.Genre != nil {
		book.Genre = strings.TrimSpace(*input.Genre)
	}
	if input.Draft != nil {
		book.Draft = *input.Draft
		book.Status = domain.StatusPublished
		if book.Draft {
			book.Status = domain.StatusDraft
		}
	}
	if len(input.ManuscriptData) > 0 {
		res, err := a.uploader.Upload(ctx, storage.FieldManuscript, input.ManuscriptFilename, input.ManuscriptData)
		if err != nil {
			return domain.Book{}, err
		}
		book.ManuscriptRef = res.Ref
	}
	if len(input.CoverData) > 0 {
		res, err := a.uploader.Upload(ctx, storage.FieldImage, input.CoverFilename, input.CoverData)
		if err != nil {
			return domain.Book{}, err
		}
		book.CoverRef = res.Ref
	}
	book.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// DeleteBook removes a book and its reviews. Owner only.
func (a *App) DeleteBook(actor domain.User, bookID string) error {
	if _, err := a.ownedBook(actor, bookID); err != nil {
		return err
	}
	if err := a.store.DeleteBook(bookID); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return nil
}

// GetBook retrieves a book by ID.
func (a *App) GetBook(id string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}

// ListBooks returns the public catalog.
func (a *App) ListBooks() ([]domain.Book, error) {
	return a.store.ListBooks()
}

// SearchBooks matches title, genre, or ISBN substrings.
func (a *App) SearchBooks(query string) ([]domain.Book, error) {
	return a.store.SearchBooks(query)
}

// MyBooks lists books owned by the acting author.
func (a *App) MyBooks(actor domain.User) ([]domain.Book, error) {
	return a.store.ListBooksByAuthor(actor.ID)
}

func (a *App) ownedBook(actor domain.User, bookID string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	if book.AuthorID != actor.ID {
		return domain.Book{}, ErrForbidden
	}
	return book, nil
}

// ReviewResult pairs a review write with the aggregate recomputation
// outcome. RecomputeErr is reported separately so a failed mean update
// does not mask a successful review write.
type ReviewResult struct {
	Review        domain.Review
	AverageRating float64
	RecomputeErr  error
}

// CreateReview inserts a review for (book, customer) and recomputes the
// book's mean rating. The store's unique index arbitrates duplicates.
func (a *App) CreateReview(customerID, bookID string, rating int, comment string) (ReviewResult, error) {
	if rating < 1 || rating > 5 {
		return ReviewResult{}, ErrRatingOutOfRange
	}
	if _, ok, err := a.store.GetBook(bookID); err != nil {
		return ReviewResult{}, fmt.Errorf("get book: %w", err)
	} else if !ok {
		return ReviewResult{}, ErrBookNotFound
	}
	now := time.Now().UTC()
	review := domain.Review{
		ID:         util.NewID(),
		BookID:     bookID,
		CustomerID: customerID,
		Rating:     rating,
		Comment:    strings.TrimSpace(comment),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.CreateReview(review); err != nil {
		return ReviewResult{}, err
	}
	return a.reviewResult(review), nil
}

// UpdateReview changes rating/comment on the caller's own review.
func (a *App) UpdateReview(actor domain.User, reviewID string, rating int, comment string) (ReviewResult, error) {
	if rating < 1 || rating > 5 {
		return ReviewResult{}, ErrRatingOutOfRange
	}
	review, err := a.ownedReview(actor, reviewID)
	if err != nil {
		return ReviewResult{}, err
	}
	review.Rating = rating
	review.Comment = strings.TrimSpace(comment)
	review.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveReview(review); err != nil {
		return ReviewResult{}, fmt.Errorf("save review: %w", err)
	}
	return a.reviewResult(review), nil
}

// DeleteReview removes the caller's own review and recomputes the mean.
func (a *App) DeleteReview(actor domain.User, reviewID string) (ReviewResult, error) {
	review, err := a.ownedReview(actor, reviewID)
	if err != nil {
		return ReviewResult{}, err
	}
	if err := a.store.DeleteReview(reviewID); err != nil {
		return ReviewResult{}, fmt.Errorf("delete review: %w", err)
	}
	return a.reviewResult(review), nil
}

// ListBookReviews returns a book's reviews, oldest first.
func (a *App) ListBookReviews(bookID string) ([]domain.Review, error) {
	return a.store.ListReviewsByBook(bookID)
}

func (a *App) ownedReview(actor domain.User, reviewID string) (domain.Review, error) {
	review, ok, err := a.store.GetReview(reviewID)
	if err != nil {
		return domain.Review{}, fmt.Errorf("get review: %w", err)
	}
	if !ok {
		return domain.Review{}, ErrReviewNotFound
	}
	if review.CustomerID != actor.ID {
		return domain.Review{}, ErrForbidden
	}
	return review, nil
}

func (a *App) reviewResult(review domain.Review) ReviewResult {
	res := ReviewResult{Review: review}
	avg, err := a.store.AverageRating(review.BookID)
	if err == nil {
		err = a.store.SetAverageRating(review.BookID, avg)
	}
	if err != nil {
		res.RecomputeErr = fmt.Errorf("recompute rating for book %s: %w", review.BookID, err)
		return res
	}
	res.AverageRating = avg
	return res
}
