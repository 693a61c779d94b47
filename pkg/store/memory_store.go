package store

import (
	"sort"
	"strings"
	"sync"

	"novelink/pkg/domain"
)

// MemoryStore keeps everything in-process. Used by tests and local
// development; it mirrors the GormStore contract including the duplicate
// review arbiter.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	email       map[string]string // email -> user ID
	books       map[string]domain.Book
	bookOrder   []string
	reviews     map[string]domain.Review
	reviewPairs map[string]string // bookID|customerID -> review ID
	suggestions []domain.Suggestion
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]domain.User),
		email:       make(map[string]string),
		books:       make(map[string]domain.Book),
		reviews:     make(map[string]domain.Review),
		reviewPairs: make(map[string]string),
	}
}

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, taken := m.email[u.Email]; taken && owner != u.ID {
		return ErrDuplicateEmail
	}
	if old, ok := m.users[u.ID]; ok && old.Email != u.Email {
		delete(m.email, old.Email)
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) SaveBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; !exists {
		m.bookOrder = append(m.bookOrder, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

func (m *MemoryStore) ListBooks() ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectBooks(func(domain.Book) bool { return true }), nil
}

func (m *MemoryStore) ListBooksByAuthor(authorID string) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectBooks(func(b domain.Book) bool { return b.AuthorID == authorID }), nil
}

func (m *MemoryStore) SearchBooks(query string) ([]domain.Book, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	m.mu.RLock()
	defer m.mu.RUnlock()
	if query == "" {
		return m.collectBooks(func(domain.Book) bool { return true }), nil
	}
	return m.collectBooks(func(b domain.Book) bool {
		return strings.Contains(strings.ToLower(b.Title), query) ||
			strings.Contains(strings.ToLower(b.Genre), query) ||
			strings.Contains(strings.ToLower(b.ISBN), query)
	}), nil
}

func (m *MemoryStore) collectBooks(match func(domain.Book) bool) []domain.Book {
	res := make([]domain.Book, 0, len(m.bookOrder))
	for _, id := range m.bookOrder {
		if b, ok := m.books[id]; ok && match(b) {
			res = append(res, b)
		}
	}
	return res
}

func (m *MemoryStore) DeleteBook(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, id)
	filtered := m.bookOrder[:0]
	for _, item := range m.bookOrder {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.bookOrder = filtered
	for rid, r := range m.reviews {
		if r.BookID == id {
			delete(m.reviews, rid)
			delete(m.reviewPairs, pairKey(r.BookID, r.CustomerID))
		}
	}
	return nil
}

func (m *MemoryStore) SetAverageRating(bookID string, avg float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[bookID]
	if !ok {
		return nil
	}
	b.AverageRating = avg
	m.books[bookID] = b
	return nil
}

func (m *MemoryStore) CreateReview(r domain.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(r.BookID, r.CustomerID)
	if _, dup := m.reviewPairs[key]; dup {
		return ErrDuplicateReview
	}
	m.reviews[r.ID] = r
	m.reviewPairs[key] = r.ID
	return nil
}

func (m *MemoryStore) SaveReview(r domain.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.reviews[r.ID]
	if !ok {
		return nil
	}
	existing.Rating = r.Rating
	existing.Comment = r.Comment
	existing.UpdatedAt = r.UpdatedAt
	m.reviews[r.ID] = existing
	return nil
}

func (m *MemoryStore) GetReview(id string) (domain.Review, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reviews[id]
	return r, ok, nil
}

func (m *MemoryStore) ListReviewsByBook(bookID string) ([]domain.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Review, 0)
	for _, r := range m.reviews {
		if r.BookID == bookID {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) DeleteReview(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reviews[id]; ok {
		delete(m.reviews, id)
		delete(m.reviewPairs, pairKey(r.BookID, r.CustomerID))
	}
	return nil
}

func (m *MemoryStore) AverageRating(bookID string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum, count int
	for _, r := range m.reviews {
		if r.BookID == bookID {
			sum += r.Rating
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return float64(sum) / float64(count), nil
}

func (m *MemoryStore) SaveSuggestion(s domain.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suggestions = append(m.suggestions, s)
	return nil
}

func (m *MemoryStore) ListSuggestionsByUser(userID string, limit int) ([]domain.Suggestion, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Suggestion, 0)
	for i := len(m.suggestions) - 1; i >= 0 && len(res) < limit; i-- {
		if m.suggestions[i].UserID == userID {
			res = append(res, m.suggestions[i])
		}
	}
	return res, nil
}

func pairKey(bookID, customerID string) string {
	return bookID + "|" + customerID
}
