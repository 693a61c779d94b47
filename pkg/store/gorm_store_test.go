package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novelink/pkg/domain"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "novelink.db"))
	require.NoError(t, err)
	return s
}

func seedUser(t *testing.T, s Store, id string, role domain.Role, email string) domain.User {
	t.Helper()
	u := domain.User{
		ID:           id,
		Role:         role,
		Name:         "User " + id,
		Email:        email,
		PasswordHash: "$2a$10$hash",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.SaveUser(u))
	return u
}

func seedBook(t *testing.T, s Store, id, authorID, title string) domain.Book {
	t.Helper()
	now := time.Now().UTC()
	b := domain.Book{
		ID:        id,
		AuthorID:  authorID,
		Title:     title,
		ISBN:      "978-" + id,
		Genre:     "fantasy",
		Status:    domain.StatusPublished,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.SaveBook(b))
	return b
}

func TestUserEmailUniquenessAcrossRoles(t *testing.T) {
	s := newTestStore(t)

	seedUser(t, s, "u1", domain.RoleAuthor, "alice@example.com")

	exists, err := s.HasUserEmail("alice@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.HasUserEmail("bob@example.com")
	require.NoError(t, err)
	assert.False(t, exists)

	got, found, err := s.GetUserByEmail("alice@example.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.RoleAuthor, got.Role)
	assert.Equal(t, "u1", got.ID)
}

func TestSaveUserUpsertsByID(t *testing.T) {
	s := newTestStore(t)

	u := seedUser(t, s, "u1", domain.RoleCustomer, "carol@example.com")
	u.Name = "Carol Updated"
	u.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.SaveUser(u))

	got, found, err := s.GetUserByID("u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Carol Updated", got.Name)
}

func TestSaveUserDuplicateEmail(t *testing.T) {
	// The email unique index is the arbiter when two registrations race
	// past the existence check; both implementations report the same
	// sentinel.
	stores := map[string]Store{
		"gorm":   newTestStore(t),
		"memory": NewMemoryStore(),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			seedUser(t, s, "u1", domain.RoleAuthor, "alice@example.com")

			err := s.SaveUser(domain.User{
				ID:           "u2",
				Role:         domain.RoleCustomer,
				Name:         "Impostor",
				Email:        "alice@example.com",
				PasswordHash: "$2a$10$hash",
				CreatedAt:    time.Now().UTC(),
			})
			assert.ErrorIs(t, err, ErrDuplicateEmail)

			// Upsert by ID with the same email is not a collision.
			u, found, err := s.GetUserByID("u1")
			require.NoError(t, err)
			require.True(t, found)
			u.Name = "Alice Updated"
			assert.NoError(t, s.SaveUser(u))
		})
	}
}

func TestDuplicateReviewRejected(t *testing.T) {
	s := newTestStore(t)
	seedBook(t, s, "b1", "a1", "First Novel")

	now := time.Now().UTC()
	require.NoError(t, s.CreateReview(domain.Review{
		ID: "r1", BookID: "b1", CustomerID: "c1", Rating: 4, Comment: "good", CreatedAt: now,
	}))

	err := s.CreateReview(domain.Review{
		ID: "r2", BookID: "b1", CustomerID: "c1", Rating: 1, Comment: "changed my mind", CreatedAt: now,
	})
	assert.ErrorIs(t, err, ErrDuplicateReview)

	// Same customer on a different book is fine.
	seedBook(t, s, "b2", "a1", "Second Novel")
	assert.NoError(t, s.CreateReview(domain.Review{
		ID: "r3", BookID: "b2", CustomerID: "c1", Rating: 5, CreatedAt: now,
	}))
}

func TestAverageRatingAggregation(t *testing.T) {
	s := newTestStore(t)
	seedBook(t, s, "b1", "a1", "Rated Novel")

	avg, err := s.AverageRating("b1")
	require.NoError(t, err)
	assert.Zero(t, avg)

	now := time.Now().UTC()
	require.NoError(t, s.CreateReview(domain.Review{ID: "r1", BookID: "b1", CustomerID: "c1", Rating: 5, CreatedAt: now}))
	require.NoError(t, s.CreateReview(domain.Review{ID: "r2", BookID: "b1", CustomerID: "c2", Rating: 2, CreatedAt: now}))

	avg, err = s.AverageRating("b1")
	require.NoError(t, err)
	assert.InDelta(t, 3.5, avg, 1e-9)

	require.NoError(t, s.SetAverageRating("b1", avg))
	got, found, err := s.GetBook("b1")
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 3.5, got.AverageRating, 1e-9)

	require.NoError(t, s.DeleteReview("r2"))
	avg, err = s.AverageRating("b1")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, avg, 1e-9)
}

func TestSearchBooksMatchesTitleGenreISBN(t *testing.T) {
	s := newTestStore(t)
	seedBook(t, s, "b1", "a1", "The Winter Garden")
	seedBook(t, s, "b2", "a1", "Summer Nights")
	seedBook(t, s, "b3", "a2", "Gardening for Wizards")

	byTitle, err := s.SearchBooks("garden")
	require.NoError(t, err)
	require.Len(t, byTitle, 2)
	assert.Equal(t, "b1", byTitle[0].ID)
	assert.Equal(t, "b3", byTitle[1].ID)

	byGenre, err := s.SearchBooks("FANTASY")
	require.NoError(t, err)
	assert.Len(t, byGenre, 3)

	byISBN, err := s.SearchBooks("978-b2")
	require.NoError(t, err)
	require.Len(t, byISBN, 1)
	assert.Equal(t, "b2", byISBN[0].ID)

	all, err := s.SearchBooks("  ")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestListBooksByAuthor(t *testing.T) {
	s := newTestStore(t)
	seedBook(t, s, "b1", "a1", "Mine")
	seedBook(t, s, "b2", "a2", "Theirs")
	seedBook(t, s, "b3", "a1", "Also Mine")

	books, err := s.ListBooksByAuthor("a1")
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "b1", books[0].ID)
	assert.Equal(t, "b3", books[1].ID)
}

func TestDeleteBookCascadesReviews(t *testing.T) {
	s := newTestStore(t)
	seedBook(t, s, "b1", "a1", "Doomed Novel")

	now := time.Now().UTC()
	require.NoError(t, s.CreateReview(domain.Review{ID: "r1", BookID: "b1", CustomerID: "c1", Rating: 3, CreatedAt: now}))

	require.NoError(t, s.DeleteBook("b1"))

	_, found, err := s.GetBook("b1")
	require.NoError(t, err)
	assert.False(t, found)

	reviews, err := s.ListReviewsByBook("b1")
	require.NoError(t, err)
	assert.Empty(t, reviews)

	// The pair is free again once the old review is gone.
	seedBook(t, s, "b1", "a1", "Reborn Novel")
	assert.NoError(t, s.CreateReview(domain.Review{ID: "r2", BookID: "b1", CustomerID: "c1", Rating: 4, CreatedAt: now}))
}

func TestSuggestionHistoryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	for i, kind := range []domain.SuggestionKind{domain.SuggestionCover, domain.SuggestionPlot} {
		require.NoError(t, s.SaveSuggestion(domain.Suggestion{
			ID:        string(rune('a' + i)),
			UserID:    "u1",
			Kind:      kind,
			Prompt:    "prompt",
			Result:    "result",
			Meta:      map[string]string{"model": "gemini"},
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}

	history, err := s.ListSuggestionsByUser("u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.SuggestionPlot, history[0].Kind)
	assert.Equal(t, "gemini", history[0].Meta["model"])

	none, err := s.ListSuggestionsByUser("u2", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
