package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"novelink/internal/usertoken"
	"novelink/pkg/domain"
	"novelink/pkg/storage"
	"novelink/pkg/store"
)

type fakeGenerator struct {
	lastSystem string
	lastUser   string
	reply      string
	err        error
}

func (f *fakeGenerator) GenerateText(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *fakeGenerator) {
	t.Helper()
	mem := store.NewMemoryStore()
	a, gen := newTestAppWith(t, mem)
	return a, mem, gen
}

func newTestAppWith(t *testing.T, st store.Store) (*App, *fakeGenerator) {
	t.Helper()
	tokens, err := usertoken.NewManager(usertoken.Config{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	uploader, err := storage.NewUploader(nil, files)
	if err != nil {
		t.Fatalf("new uploader: %v", err)
	}
	gen := &fakeGenerator{reply: "generated text"}
	a, err := New(Config{Store: st, Tokens: tokens, Uploader: uploader, Files: files, Generator: gen})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, gen
}

func registerAuthor(t *testing.T, a *App) (domain.User, string) {
	t.Helper()
	user, token, err := a.Register(domain.RoleAuthor, "Ann Author", "ann@example.com", "password123")
	if err != nil {
		t.Fatalf("register author: %v", err)
	}
	return user, token
}

func registerCustomer(t *testing.T, a *App) (domain.User, string) {
	t.Helper()
	user, token, err := a.Register(domain.RoleCustomer, "Carl Customer", "carl@example.com", "password123")
	if err != nil {
		t.Fatalf("register customer: %v", err)
	}
	return user, token
}

func TestRegisterAndLogin(t *testing.T) {
	a, _, _ := newTestApp(t)

	user, token := registerAuthor(t, a)
	if user.Role != domain.RoleAuthor {
		t.Fatalf("unexpected role %q", user.Role)
	}
	if token == "" {
		t.Fatal("expected a token on registration")
	}

	got, err := a.UserFromToken(token)
	if err != nil {
		t.Fatalf("user from token: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("token resolved wrong user %q", got.ID)
	}

	if _, _, err := a.Login(domain.RoleAuthor, "ann@example.com", "password123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, _, err := a.Login(domain.RoleAuthor, "ann@example.com", "wrongpass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	// Role-pinned login does not reveal which role the email belongs to.
	if _, _, err := a.Login(domain.RoleCustomer, "ann@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials on role mismatch, got %v", err)
	}
	// Unpinned login accepts any role.
	if _, _, err := a.Login("", "ann@example.com", "password123"); err != nil {
		t.Fatalf("unpinned login: %v", err)
	}
}

func TestRegisterDuplicateEmailAcrossRoles(t *testing.T) {
	a, _, _ := newTestApp(t)
	registerAuthor(t, a)

	_, _, err := a.Register(domain.RoleCustomer, "Impostor", "ann@example.com", "password123")
	if !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("expected duplicate email error, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	a, _, _ := newTestApp(t)
	if _, _, err := a.Register(domain.RoleAuthor, "", "x@example.com", "password123"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for missing name, got %v", err)
	}
	if _, _, err := a.Register(domain.RoleAuthor, "Ann", "x@example.com", "short"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for weak password, got %v", err)
	}
}

func TestUserFromTokenDeletedSubject(t *testing.T) {
	a, _, _ := newTestApp(t)
	tokens, _ := usertoken.NewManager(usertoken.Config{Secret: "test-secret"})
	orphan, err := tokens.Issue("ghost-user", "author")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := a.UserFromToken(orphan); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for unknown subject, got %v", err)
	}
	if _, err := a.UserFromToken("garbage"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for garbage token, got %v", err)
	}
}

func TestCreateBookWithUploads(t *testing.T) {
	a, _, _ := newTestApp(t)
	author, _ := registerAuthor(t, a)

	book, err := a.CreateBook(context.Background(), author, CreateBookInput{
		Title:              "My Novel",
		Genre:              "fantasy",
		ISBN:               "978-1",
		ManuscriptFilename: "draft.pdf",
		ManuscriptData:     []byte("%PDF-1.4"),
		CoverFilename:      "cover.png",
		CoverData:          []byte("png-bytes"),
	})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if book.ManuscriptRef == "" || book.CoverRef == "" {
		t.Fatalf("expected file refs on book, got %+v", book)
	}
	if domain.IsRemoteRef(book.ManuscriptRef) {
		t.Fatalf("no remote store wired, ref should be local: %q", book.ManuscriptRef)
	}
	if book.Status != domain.StatusPublished {
		t.Fatalf("expected published status, got %q", book.Status)
	}

	if _, err := a.CreateBook(context.Background(), author, CreateBookInput{
		Title:              "Bad Upload",
		ManuscriptFilename: "malware.exe",
		ManuscriptData:     []byte("MZ"),
	}); !errors.Is(err, storage.ErrUnsupportedFileType) {
		t.Fatalf("expected unsupported file type, got %v", err)
	}

	if _, err := a.CreateBook(context.Background(), author, CreateBookInput{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for missing title, got %v", err)
	}
}

func TestBookOwnershipChecks(t *testing.T) {
	a, _, _ := newTestApp(t)
	author, _ := registerAuthor(t, a)
	other, _, err := a.Register(domain.RoleAuthor, "Other Author", "other@example.com", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	book, err := a.CreateBook(context.Background(), author, CreateBookInput{Title: "Guarded"})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	newTitle := "Hijacked"
	if _, err := a.UpdateBook(context.Background(), other, book.ID, UpdateBookInput{Title: &newTitle}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for non-owner update, got %v", err)
	}
	if err := a.DeleteBook(other, book.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for non-owner delete, got %v", err)
	}
	if _, err := a.UpdateBook(context.Background(), author, "missing", UpdateBookInput{}); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	draft := true
	updated, err := a.UpdateBook(context.Background(), author, book.ID, UpdateBookInput{Title: &newTitle, Draft: &draft})
	if err != nil {
		t.Fatalf("owner update: %v", err)
	}
	if updated.Title != newTitle || updated.Status != domain.StatusDraft {
		t.Fatalf("update not applied: %+v", updated)
	}

	if err := a.DeleteBook(author, book.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if _, err := a.GetBook(book.ID); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestReviewLifecycleRecomputesMean(t *testing.T) {
	a, _, _ := newTestApp(t)
	author, _ := registerAuthor(t, a)
	customer, _ := registerCustomer(t, a)

	book, err := a.CreateBook(context.Background(), author, CreateBookInput{Title: "Rated"})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	res, err := a.CreateReview(customer.ID, book.ID, 4, "solid")
	if err != nil {
		t.Fatalf("create review: %v", err)
	}
	if res.RecomputeErr != nil {
		t.Fatalf("unexpected recompute error: %v", res.RecomputeErr)
	}
	if res.AverageRating != 4 {
		t.Fatalf("expected mean 4, got %v", res.AverageRating)
	}
	got, err := a.GetBook(book.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if got.AverageRating != 4 {
		t.Fatalf("mean not persisted on book: %v", got.AverageRating)
	}

	// One review per (book, customer).
	if _, err := a.CreateReview(customer.ID, book.ID, 5, "again"); !errors.Is(err, store.ErrDuplicateReview) {
		t.Fatalf("expected duplicate review error, got %v", err)
	}

	upd, err := a.UpdateReview(customer, res.Review.ID, 2, "changed my mind")
	if err != nil {
		t.Fatalf("update review: %v", err)
	}
	if upd.AverageRating != 2 {
		t.Fatalf("expected mean 2 after update, got %v", upd.AverageRating)
	}

	del, err := a.DeleteReview(customer, res.Review.ID)
	if err != nil {
		t.Fatalf("delete review: %v", err)
	}
	if del.AverageRating != 0 {
		t.Fatalf("expected mean 0 after delete, got %v", del.AverageRating)
	}
}

// brokenRatingStore fails every aggregate write while leaving review
// persistence intact.
type brokenRatingStore struct {
	*store.MemoryStore
	ratingErr error
}

func (b *brokenRatingStore) SetAverageRating(string, float64) error { return b.ratingErr }

func TestReviewWriteSucceedsWhenRecomputeFails(t *testing.T) {
	broken := &brokenRatingStore{MemoryStore: store.NewMemoryStore(), ratingErr: errors.New("db gone")}
	a, _ := newTestAppWith(t, broken)
	author, _ := registerAuthor(t, a)
	customer, _ := registerCustomer(t, a)

	book, err := a.CreateBook(context.Background(), author, CreateBookInput{Title: "Rated"})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	res, err := a.CreateReview(customer.ID, book.ID, 4, "solid")
	if err != nil {
		t.Fatalf("review write must not fail on a recompute error: %v", err)
	}
	if res.Review.ID == "" || res.Review.Rating != 4 {
		t.Fatalf("review not persisted in result: %+v", res.Review)
	}
	if res.RecomputeErr == nil || !strings.Contains(res.RecomputeErr.Error(), "db gone") {
		t.Fatalf("expected recompute error reported separately, got %v", res.RecomputeErr)
	}
	if res.AverageRating != 0 {
		t.Fatalf("mean must stay zero when recompute fails, got %v", res.AverageRating)
	}
	// The review itself landed despite the failed aggregate write.
	if _, ok, _ := broken.GetReview(res.Review.ID); !ok {
		t.Fatal("review missing from store")
	}
}

// lateCheckStore skips the pre-insert existence check so the unique email
// index inside SaveUser is the only arbiter, as under a concurrent race.
type lateCheckStore struct{ *store.MemoryStore }

func (l *lateCheckStore) HasUserEmail(string) (bool, error) { return false, nil }

func TestRegisterDuplicateEmailLostRace(t *testing.T) {
	a, _ := newTestAppWith(t, &lateCheckStore{store.NewMemoryStore()})

	if _, _, err := a.Register(domain.RoleAuthor, "Ann", "ann@example.com", "password123"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, _, err := a.Register(domain.RoleCustomer, "Impostor", "ann@example.com", "password123")
	if !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("expected duplicate email error from index collision, got %v", err)
	}
}

func TestReviewValidationAndOwnership(t *testing.T) {
	a, _, _ := newTestApp(t)
	author, _ := registerAuthor(t, a)
	customer, _ := registerCustomer(t, a)
	stranger, _, err := a.Register(domain.RoleCustomer, "Stranger", "s@example.com", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	book, err := a.CreateBook(context.Background(), author, CreateBookInput{Title: "Rated"})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	if _, err := a.CreateReview(customer.ID, book.ID, 0, ""); !errors.Is(err, ErrRatingOutOfRange) {
		t.Fatalf("expected rating range error, got %v", err)
	}
	if _, err := a.CreateReview(customer.ID, "missing", 3, ""); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected book not found, got %v", err)
	}

	res, err := a.CreateReview(customer.ID, book.ID, 3, "")
	if err != nil {
		t.Fatalf("create review: %v", err)
	}
	if _, err := a.UpdateReview(stranger, res.Review.ID, 5, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}
	if _, err := a.DeleteReview(stranger, res.Review.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for non-owner delete, got %v", err)
	}
	if _, err := a.UpdateReview(customer, "missing", 5, ""); !errors.Is(err, ErrReviewNotFound) {
		t.Fatalf("expected review not found, got %v", err)
	}
}

func TestSuggestCoverRecordsHistory(t *testing.T) {
	a, _, gen := newTestApp(t)
	author, _ := registerAuthor(t, a)

	text, err := a.SuggestCover(context.Background(), author, CoverSuggestionInput{Title: "Mist", Genre: "mystery"})
	if err != nil {
		t.Fatalf("suggest cover: %v", err)
	}
	if text != "generated text" {
		t.Fatalf("unexpected reply %q", text)
	}
	if !strings.Contains(gen.lastUser, "Mist") {
		t.Fatalf("prompt missing title: %q", gen.lastUser)
	}

	history, err := a.SuggestionHistory(author, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Kind != domain.SuggestionCover {
		t.Fatalf("unexpected history %+v", history)
	}

	if _, err := a.SuggestCover(context.Background(), author, CoverSuggestionInput{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestWritingFeedbackFoldsExcerpt(t *testing.T) {
	a, _, gen := newTestApp(t)
	author, _ := registerAuthor(t, a)
	other, _ := registerCustomer(t, a)

	book, err := a.CreateBook(context.Background(), author, CreateBookInput{
		Title:              "Prose",
		ManuscriptFilename: "draft.mobi",
		ManuscriptData:     []byte("It was a dark and stormy night."),
	})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	if _, err := a.WritingFeedback(context.Background(), author, book.ID); err != nil {
		t.Fatalf("writing feedback: %v", err)
	}
	if !strings.Contains(gen.lastUser, "dark and stormy") {
		t.Fatalf("excerpt missing from prompt: %q", gen.lastUser)
	}

	if _, err := a.WritingFeedback(context.Background(), other, book.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}
}

func TestReadingPlanAndUpstreamFailure(t *testing.T) {
	a, _, gen := newTestApp(t)
	customer, _ := registerCustomer(t, a)

	if _, err := a.ReadingPlan(context.Background(), customer, ReadingPlanInput{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := a.ReadingPlan(context.Background(), customer, ReadingPlanInput{Genres: []string{"sci-fi"}, HoursPerWeek: 5}); err != nil {
		t.Fatalf("reading plan: %v", err)
	}

	gen.err = errors.New("model overloaded")
	_, err := a.ReadingPlan(context.Background(), customer, ReadingPlanInput{Goal: "read more"})
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("expected upstream error surfaced, got %v", err)
	}
}

func TestGeneratorUnavailable(t *testing.T) {
	a, _, _ := newTestApp(t)
	a.generator = nil
	author, _ := registerAuthor(t, a)
	if _, err := a.SuggestCover(context.Background(), author, CoverSuggestionInput{Title: "X"}); !errors.Is(err, ErrGeneratorUnavailable) {
		t.Fatalf("expected generator unavailable, got %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	a, _, _ := newTestApp(t)
	customer, _ := registerCustomer(t, a)

	updated, err := a.UpdateProfile(context.Background(), customer, "New Name", "me.jpg", []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Name != "New Name" || updated.ProfileImage == "" {
		t.Fatalf("profile not updated: %+v", updated)
	}

	if _, err := a.UpdateProfile(context.Background(), customer, "", "me.pdf", []byte("x")); !errors.Is(err, storage.ErrUnsupportedFileType) {
		t.Fatalf("expected unsupported type for pdf avatar, got %v", err)
	}
}
