package domain

import (
	"strings"
	"time"
)

// Role discriminates the two kinds of principals.
type Role string

const (
	RoleAuthor   Role = "author"
	RoleCustomer Role = "customer"
)

// ParseRole normalizes a role string. Returns false for unknown roles.
func ParseRole(raw string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(RoleAuthor):
		return RoleAuthor, true
	case string(RoleCustomer):
		return RoleCustomer, true
	default:
		return "", false
	}
}

type BookStatus string

const (
	StatusDraft     BookStatus = "draft"
	StatusPublished BookStatus = "published"
)

// SuggestionKind labels the AI operations whose results are kept as history.
type SuggestionKind string

const (
	SuggestionCover       SuggestionKind = "cover"
	SuggestionPlot        SuggestionKind = "plot"
	SuggestionFeedback    SuggestionKind = "feedback"
	SuggestionReadingPlan SuggestionKind = "reading_plan"
)

// User is the unified principal. Authors and customers live in one store,
// discriminated by Role, with a single global unique-email invariant.
type User struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	ProfileImage string    `json:"profileImage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Book struct {
	ID            string     `json:"id"`
	AuthorID      string     `json:"authorId"`
	Title         string     `json:"title"`
	ISBN          string     `json:"isbn"`
	Genre         string     `json:"genre"`
	ManuscriptRef string     `json:"manuscriptRef,omitempty"`
	CoverRef      string     `json:"coverRef,omitempty"`
	AverageRating float64    `json:"averageRating"`
	Status        BookStatus `json:"status"`
	Draft         bool       `json:"draft"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Review holds a customer's rating of a book. At most one review exists per
// (book, customer) pair; the store's unique index is the arbiter.
type Review struct {
	ID         string    `json:"id"`
	BookID     string    `json:"bookId"`
	CustomerID string    `json:"customerId"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Suggestion records one AI interaction for later retrieval.
type Suggestion struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	BookID    string            `json:"bookId,omitempty"`
	Kind      SuggestionKind    `json:"kind"`
	Prompt    string            `json:"prompt"`
	Result    string            `json:"result"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// IsRemoteRef reports whether a stored file reference points at the object
// store (absolute URL) rather than the local fallback directory.
func IsRemoteRef(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}
