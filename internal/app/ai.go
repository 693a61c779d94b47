package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"novelink/internal/util"
	"novelink/pkg/domain"
	"novelink/pkg/excerpt"
)

const (
	coverSystemPrompt = "You are an experienced book cover designer. Describe a single, " +
		"concrete cover concept: imagery, palette, typography, and mood. Keep it under 200 words."
	plotSystemPrompt = "You are a developmental editor. Propose plot directions that fit the " +
		"premise: key beats, a midpoint turn, and a satisfying resolution."
	feedbackSystemPrompt = "You are a candid but constructive writing coach. Comment on prose " +
		"style, pacing, and dialogue, citing short passages from the excerpt."
	readingPlanSystemPrompt = "You are a reading coach. Build a week-by-week reading plan " +
		"matched to the reader's genres, goals, and available time."
)

// CoverSuggestionInput seeds the cover concept prompt.
type CoverSuggestionInput struct {
	BookID      string
	Title       string
	Genre       string
	Description string
}

// SuggestCover asks the generator for a cover concept.
func (a *App) SuggestCover(ctx context.Context, actor domain.User, input CoverSuggestionInput) (string, error) {
	title, genre := strings.TrimSpace(input.Title), strings.TrimSpace(input.Genre)
	if input.BookID != "" {
		book, err := a.GetBook(input.BookID)
		if err != nil {
			return "", err
		}
		if title == "" {
			title = book.Title
		}
		if genre == "" {
			genre = book.Genre
		}
	}
	if title == "" {
		return "", fmt.Errorf("%w: title or bookId required", ErrValidation)
	}
	prompt := fmt.Sprintf("Title: %s\nGenre: %s", title, genre)
	if desc := strings.TrimSpace(input.Description); desc != "" {
		prompt += "\nAbout the book: " + desc
	}
	return a.generate(ctx, actor, domain.SuggestionCover, input.BookID, coverSystemPrompt, prompt)
}

// PlotSuggestionInput seeds the plot direction prompt.
type PlotSuggestionInput struct {
	BookID  string
	Title   string
	Genre   string
	Premise string
}

// SuggestPlot asks the generator for plot directions.
func (a *App) SuggestPlot(ctx context.Context, actor domain.User, input PlotSuggestionInput) (string, error) {
	premise := strings.TrimSpace(input.Premise)
	if premise == "" && strings.TrimSpace(input.Title) == "" && input.BookID == "" {
		return "", fmt.Errorf("%w: premise, title, or bookId required", ErrValidation)
	}
	title, genre := strings.TrimSpace(input.Title), strings.TrimSpace(input.Genre)
	if input.BookID != "" {
		book, err := a.GetBook(input.BookID)
		if err != nil {
			return "", err
		}
		if title == "" {
			title = book.Title
		}
		if genre == "" {
			genre = book.Genre
		}
	}
	var sb strings.Builder
	if title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", title)
	}
	if genre != "" {
		fmt.Fprintf(&sb, "Genre: %s\n", genre)
	}
	if premise != "" {
		fmt.Fprintf(&sb, "Premise: %s\n", premise)
	}
	return a.generate(ctx, actor, domain.SuggestionPlot, input.BookID, plotSystemPrompt, sb.String())
}

// WritingFeedback runs the author's manuscript excerpt through the
// generator. The excerpt is best-effort: a manuscript that cannot be
// fetched or parsed shrinks the prompt to metadata only.
func (a *App) WritingFeedback(ctx context.Context, actor domain.User, bookID string) (string, error) {
	book, err := a.ownedBook(actor, bookID)
	if err != nil {
		return "", err
	}
	prompt := fmt.Sprintf("Book: %s (genre: %s)", book.Title, book.Genre)
	if book.ManuscriptRef != "" {
		data, err := a.fetchRef(ctx, book.ManuscriptRef)
		if err == nil {
			text, exErr := excerpt.Extract(book.ManuscriptRef, data, excerpt.DefaultMaxRunes)
			if exErr == nil {
				prompt += "\n\nManuscript excerpt:\n" + text
			} else {
				slog.Warn("manuscript excerpt failed", "book_id", bookID, "err", exErr)
			}
		} else {
			slog.Warn("manuscript fetch failed", "book_id", bookID, "err", err)
		}
	}
	return a.generate(ctx, actor, domain.SuggestionFeedback, bookID, feedbackSystemPrompt, prompt)
}

// ReadingPlanInput seeds the personalized reading plan prompt.
type ReadingPlanInput struct {
	Genres       []string
	Goal         string
	HoursPerWeek int
}

// ReadingPlan asks the generator for a personalized reading plan.
func (a *App) ReadingPlan(ctx context.Context, actor domain.User, input ReadingPlanInput) (string, error) {
	if len(input.Genres) == 0 && strings.TrimSpace(input.Goal) == "" {
		return "", fmt.Errorf("%w: genres or goal required", ErrValidation)
	}
	var sb strings.Builder
	if len(input.Genres) > 0 {
		fmt.Fprintf(&sb, "Favorite genres: %s\n", strings.Join(input.Genres, ", "))
	}
	if goal := strings.TrimSpace(input.Goal); goal != "" {
		fmt.Fprintf(&sb, "Goal: %s\n", goal)
	}
	if input.HoursPerWeek > 0 {
		fmt.Fprintf(&sb, "Available reading time: %d hours per week\n", input.HoursPerWeek)
	}
	return a.generate(ctx, actor, domain.SuggestionReadingPlan, "", readingPlanSystemPrompt, sb.String())
}

// generate calls the provider once (no retries) and records the
// interaction. History persistence is best-effort.
func (a *App) generate(ctx context.Context, actor domain.User, kind domain.SuggestionKind, bookID, systemPrompt, userPrompt string) (string, error) {
	if a.generator == nil {
		return "", ErrGeneratorUnavailable
	}
	result, err := a.generator.GenerateText(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", kind, err)
	}
	suggestion := domain.Suggestion{
		ID:        util.NewID(),
		UserID:    actor.ID,
		BookID:    bookID,
		Kind:      kind,
		Prompt:    userPrompt,
		Result:    result,
		Meta:      map[string]string{"role": string(actor.Role)},
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveSuggestion(suggestion); err != nil {
		slog.Warn("save suggestion failed", "kind", kind, "user_id", actor.ID, "err", err)
	}
	return result, nil
}

// SuggestionHistory returns the caller's recent AI interactions.
func (a *App) SuggestionHistory(actor domain.User, limit int) ([]domain.Suggestion, error) {
	return a.store.ListSuggestionsByUser(actor.ID, limit)
}

// fetchRef loads file bytes behind a stored reference: remote references
// are fetched over HTTP, local ones resolved under the upload dir.
func (a *App) fetchRef(ctx context.Context, ref string) ([]byte, error) {
	if domain.IsRemoteRef(ref) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, err
		}
		resp, err := a.httpc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", ref, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("fetch %s: %s", ref, resp.Status)
		}
		return io.ReadAll(resp.Body)
	}
	if a.files == nil {
		return nil, fmt.Errorf("no local file store configured")
	}
	path, err := a.files.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}
