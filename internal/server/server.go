package server

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"novelink/internal/app"
	"novelink/internal/ratelimit"
	"novelink/internal/util"
	"novelink/pkg/domain"
	"novelink/pkg/storage"
	"novelink/pkg/store"
)

//go:embed assets/default_cover.svg
var assetsFS embed.FS

// Config wires required dependencies for the HTTP server.
type Config struct {
	App   *app.App
	Files *storage.FileStore

	RedisAddr                  string
	RedisPassword              string
	RegisterRateLimitPerMinute int
	LoginRateLimitPerMinute    int

	MaxUploadBytes int64
	TrustedProxies *util.TrustedProxies
}

// Server exposes the HTTP API.
type Server struct {
	app             *app.App
	files           *storage.FileStore
	mux             *http.ServeMux
	maxUploadBytes  int64
	trustedProxies  *util.TrustedProxies
	registerLimiter *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
	httpc           *http.Client
}

// New constructs the server with routes configured. Rate limiting is
// active only when a Redis address is provided.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app required")
	}
	s := &Server{
		app:            cfg.App,
		files:          cfg.Files,
		mux:            http.NewServeMux(),
		maxUploadBytes: cfg.MaxUploadBytes,
		trustedProxies: cfg.TrustedProxies,
		httpc:          &http.Client{Timeout: 30 * time.Second},
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = 32 << 20
	}
	if cfg.RedisAddr != "" {
		registerLimit := cfg.RegisterRateLimitPerMinute
		if registerLimit <= 0 {
			registerLimit = 5
		}
		loginLimit := cfg.LoginRateLimitPerMinute
		if loginLimit <= 0 {
			loginLimit = 10
		}
		var err error
		s.registerLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "novelink:ratelimit:register", registerLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init register limiter: %w", err)
		}
		s.loginLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "novelink:ratelimit:login", loginLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init login limiter: %w", err)
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware stack applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("novelink", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth (role pinned by path; /api/user/* accepts a role field)
	s.mux.HandleFunc("/api/author/register", s.handleRegister(domain.RoleAuthor))
	s.mux.HandleFunc("/api/author/login", s.handleLogin(domain.RoleAuthor))
	s.mux.HandleFunc("/api/customer/register", s.handleRegister(domain.RoleCustomer))
	s.mux.HandleFunc("/api/customer/login", s.handleLogin(domain.RoleCustomer))
	s.mux.HandleFunc("/api/user/register", s.handleRegister(""))
	s.mux.HandleFunc("/api/user/login", s.handleLogin(""))
	s.mux.Handle("/api/user/me", s.requireRole(s.handleMe))
	s.mux.Handle("/api/user/profile", s.requireRole(s.handleProfile))

	// books (detail/list/search are public reads)
	s.mux.Handle("/api/book/addBook", s.requireRole(s.handleAddBook, domain.RoleAuthor, domain.RoleCustomer))
	s.mux.HandleFunc("/api/book/list/allBooks", s.handleAllBooks)
	s.mux.HandleFunc("/api/book/search/Book", s.handleSearchBooks)
	s.mux.Handle("/api/book/myBooks", s.requireRole(s.handleMyBooks, domain.RoleAuthor))
	s.mux.Handle("/api/book/", s.requireRole(s.handleBookByID, domain.RoleAuthor, domain.RoleCustomer))

	// reviews
	s.mux.Handle("/api/reviews", s.requireRole(s.handleCreateReview, domain.RoleCustomer))
	s.mux.HandleFunc("/api/reviews/public", s.handlePublicReview)
	s.mux.Handle("/api/reviews/", s.requireRole(s.handleReviewByID, domain.RoleCustomer))

	// files
	s.mux.HandleFunc("/api/file/", s.handleFile)

	// ai
	s.mux.Handle("/api/ai/coverSuggestion", s.requireRole(s.handleCoverSuggestion, domain.RoleAuthor))
	s.mux.Handle("/api/ai/plotSuggestion", s.requireRole(s.handlePlotSuggestion, domain.RoleAuthor))
	s.mux.Handle("/api/ai/writingFeedback", s.requireRole(s.handleWritingFeedback, domain.RoleAuthor))
	s.mux.Handle("/api/ai/readingPlan", s.requireRole(s.handleReadingPlan, domain.RoleCustomer))
	s.mux.Handle("/api/ai/history", s.requireRole(s.handleSuggestionHistory))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// role gate

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

// requireRole authenticates the request and checks role membership.
// GET requests on the fixed public-read allow-list bypass verification
// entirely and reach the handler with a zero user.
func (s *Server) requireRole(next authHandler, allowed ...domain.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && isPublicRead(r.URL.Path) {
			next(w, r, domain.User{})
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.app.UserFromToken(token)
		if err != nil {
			s.audit(r, "authorize", "fail", "reason", "invalid_token_or_subject")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if len(allowed) > 0 && !roleAllowed(user.Role, allowed) {
			s.audit(r, "authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		s.audit(r, "authorize", "success", "user_id", user.ID)
		next(w, r, user)
	})
}

func roleAllowed(role domain.Role, allowed []domain.Role) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}

// isPublicRead matches the fixed allow-list of unauthenticated GETs:
// book detail, book listing, book search, and review listing.
func isPublicRead(path string) bool {
	switch path {
	case "/api/book/list/allBooks", "/api/book/search/Book":
		return true
	}
	if strings.HasPrefix(path, "/api/reviews/book/") {
		return true
	}
	if rest := strings.TrimPrefix(path, "/api/book/"); rest != path {
		return rest != "" && !strings.Contains(rest, "/") &&
			rest != "addBook" && rest != "myBooks"
	}
	return false
}

// auth handlers

func (s *Server) handleRegister(role domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
			s.audit(r, "register", "rate_limited")
			return
		}
		var req registerRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			s.audit(r, "register", "fail", "reason", "invalid_json")
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		effective := role
		if effective == "" {
			parsed, ok := domain.ParseRole(req.Role)
			if !ok {
				parsed = domain.RoleCustomer
			}
			effective = parsed
		}
		user, token, err := s.app.Register(effective, req.Name, req.Email, req.Password)
		if err != nil {
			s.audit(r, "register", "fail", "reason", err.Error())
			s.writeAppError(w, err)
			return
		}
		s.audit(r, "register", "success", "user_id", user.ID)
		writeJSON(w, http.StatusCreated, authResponse{
			Token: token,
			Role:  string(user.Role),
			ID:    user.ID,
			User:  user,
		})
	}
}

func (s *Server) handleLogin(role domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
			s.audit(r, "login", "rate_limited")
			return
		}
		var req loginRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			s.audit(r, "login", "fail", "reason", "invalid_json")
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		user, token, err := s.app.Login(role, req.Email, req.Password)
		if err != nil {
			s.audit(r, "login", "fail", "reason", err.Error())
			s.writeAppError(w, err)
			return
		}
		s.audit(r, "login", "success", "user_id", user.ID)
		writeJSON(w, http.StatusOK, authResponse{
			Token: token,
			Role:  string(user.Role),
			ID:    user.ID,
			User:  user,
		})
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	filename, data, err := readFormFile(r, "profileImage")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.app.UpdateProfile(r.Context(), user, r.FormValue("name"), filename, data)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// book handlers

type bookMetadata struct {
	Title string `json:"title"`
	ISBN  string `json:"isbn"`
	Genre string `json:"genre"`
	Draft bool   `json:"draft"`
}

func (s *Server) handleAddBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	var meta bookMetadata
	if raw := r.FormValue("book"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			writeError(w, http.StatusBadRequest, "invalid book JSON field")
			return
		}
	}
	manuscriptName, manuscriptData, err := readFormFile(r, "bookFile")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	coverName, coverData, err := readFormFile(r, "coverImage")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	book, err := s.app.CreateBook(r.Context(), user, app.CreateBookInput{
		Title:              meta.Title,
		ISBN:               meta.ISBN,
		Genre:              meta.Genre,
		Draft:              meta.Draft,
		ManuscriptFilename: manuscriptName,
		ManuscriptData:     manuscriptData,
		CoverFilename:      coverName,
		CoverData:          coverData,
	})
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleAllBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	books, err := s.app.ListBooks()
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleSearchBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	books, err := s.app.SearchBooks(r.URL.Query().Get("search"))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleMyBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	books, err := s.app.MyBooks(user)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

// /api/book/{id}
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/book/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		book, err := s.app.GetBook(id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodPut:
		s.handleUpdateBook(w, r, user, id)
	case http.MethodDelete:
		if err := s.app.DeleteBook(user, id); err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	input := app.UpdateBookInput{}
	if raw := r.FormValue("book"); raw != "" {
		var meta struct {
			Title *string `json:"title"`
			ISBN  *string `json:"isbn"`
			Genre *string `json:"genre"`
			Draft *bool   `json:"draft"`
		}
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			writeError(w, http.StatusBadRequest, "invalid book JSON field")
			return
		}
		input.Title, input.ISBN, input.Genre, input.Draft = meta.Title, meta.ISBN, meta.Genre, meta.Draft
	}
	var err error
	if input.ManuscriptFilename, input.ManuscriptData, err = readFormFile(r, "bookFile"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if input.CoverFilename, input.CoverData, err = readFormFile(r, "coverImage"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	book, err := s.app.UpdateBook(r.Context(), user, id, input)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// review handlers

type reviewRequest struct {
	BookID     string `json:"bookId"`
	CustomerID string `json:"customerId,omitempty"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment"`
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.BookID == "" {
		writeError(w, http.StatusBadRequest, "bookId is required")
		return
	}
	s.writeReviewResult(w, r, http.StatusCreated)(s.app.CreateReview(user.ID, req.BookID, req.Rating, req.Comment))
}

// handlePublicReview accepts unauthenticated reviews carrying an explicit
// customer id in the body.
func (s *Server) handlePublicReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.BookID == "" || req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "bookId and customerId are required")
		return
	}
	s.writeReviewResult(w, r, http.StatusCreated)(s.app.CreateReview(req.CustomerID, req.BookID, req.Rating, req.Comment))
}

// /api/reviews/{id} and /api/reviews/book/{bookId}
func (s *Server) handleReviewByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/reviews/")
	if bookID := strings.TrimPrefix(path, "book/"); bookID != path {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		reviews, err := s.app.ListBookReviews(bookID)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		if reviews == nil {
			reviews = []domain.Review{}
		}
		writeJSON(w, http.StatusOK, reviews)
		return
	}
	id := path
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodPut:
		var req reviewRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		s.writeReviewResult(w, r, http.StatusOK)(s.app.UpdateReview(user, id, req.Rating, req.Comment))
	case http.MethodDelete:
		s.writeReviewResult(w, r, http.StatusOK)(s.app.DeleteReview(user, id))
	default:
		methodNotAllowed(w)
	}
}

// writeReviewResult reports the review write and logs (but does not fail
// on) a rating recomputation error.
func (s *Server) writeReviewResult(w http.ResponseWriter, r *http.Request, status int) func(app.ReviewResult, error) {
	return func(res app.ReviewResult, err error) {
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		if res.RecomputeErr != nil {
			slog.Error("rating recompute failed", "path", r.URL.Path, "err", res.RecomputeErr)
		}
		writeJSON(w, status, reviewResponse{
			Review:        res.Review,
			AverageRating: res.AverageRating,
		})
	}
}

// file handler

// handleFile resolves a stored file reference. Remote references are
// fetched server-side and streamed back so browsers never hit the blob
// store origin directly; local references are served from the upload dir
// with the bundled default asset as fallback.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		ref = strings.TrimPrefix(r.URL.Path, "/api/file/")
	}
	// Path cleaning collapses the double slash after the scheme.
	if rest, ok := strings.CutPrefix(ref, "http:/"); ok && !strings.HasPrefix(rest, "/") {
		ref = "http://" + rest
	}
	if rest, ok := strings.CutPrefix(ref, "https:/"); ok && !strings.HasPrefix(rest, "/") {
		ref = "https://" + rest
	}
	if ref == "" {
		s.serveDefaultAsset(w)
		return
	}
	if domain.IsRemoteRef(ref) {
		s.proxyRemoteFile(w, r, ref)
		return
	}
	if s.files == nil {
		s.serveDefaultAsset(w)
		return
	}
	path, err := s.files.Resolve(ref)
	if err != nil {
		s.serveDefaultAsset(w)
		return
	}
	if _, err := os.Stat(path); err != nil {
		s.serveDefaultAsset(w)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) proxyRemoteFile(w http.ResponseWriter, r *http.Request, ref string) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, ref, nil)
	if err != nil {
		s.serveDefaultAsset(w)
		return
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		slog.Warn("remote file fetch failed", "ref", ref, "err", err)
		s.serveDefaultAsset(w)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		s.serveDefaultAsset(w)
		return
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, resp.Body)
}

func (s *Server) serveDefaultAsset(w http.ResponseWriter) {
	data, err := assetsFS.ReadFile("assets/default_cover.svg")
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ai handlers

func (s *Server) handleCoverSuggestion(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		BookID      string `json:"bookId"`
		Title       string `json:"title"`
		Genre       string `json:"genre"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text, err := s.app.SuggestCover(r.Context(), user, app.CoverSuggestionInput{
		BookID:      req.BookID,
		Title:       req.Title,
		Genre:       req.Genre,
		Description: req.Description,
	})
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestionResponse{Suggestion: text})
}

func (s *Server) handlePlotSuggestion(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		BookID  string `json:"bookId"`
		Title   string `json:"title"`
		Genre   string `json:"genre"`
		Premise string `json:"premise"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text, err := s.app.SuggestPlot(r.Context(), user, app.PlotSuggestionInput{
		BookID:  req.BookID,
		Title:   req.Title,
		Genre:   req.Genre,
		Premise: req.Premise,
	})
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestionResponse{Suggestion: text})
}

func (s *Server) handleWritingFeedback(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		BookID string `json:"bookId"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.BookID == "" {
		writeError(w, http.StatusBadRequest, "bookId is required")
		return
	}
	text, err := s.app.WritingFeedback(r.Context(), user, req.BookID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestionResponse{Suggestion: text})
}

func (s *Server) handleReadingPlan(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Genres       []string `json:"genres"`
		Goal         string   `json:"goal"`
		HoursPerWeek int      `json:"hoursPerWeek"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text, err := s.app.ReadingPlan(r.Context(), user, app.ReadingPlanInput{
		Genres:       req.Genres,
		Goal:         req.Goal,
		HoursPerWeek: req.HoursPerWeek,
	})
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestionResponse{Suggestion: text})
}

func (s *Server) handleSuggestionHistory(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	history, err := s.app.SuggestionHistory(user, 50)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	if history == nil {
		history = []domain.Suggestion{}
	}
	writeJSON(w, http.StatusOK, history)
}

// helpers

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	Role  string      `json:"role"`
	ID    string      `json:"id"`
	User  domain.User `json:"user"`
}

type reviewResponse struct {
	Review        domain.Review `json:"review"`
	AverageRating float64       `json:"averageRating"`
}

type suggestionResponse struct {
	Suggestion string `json:"suggestion"`
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// readFormFile reads one multipart file field fully into memory.
// A missing field is not an error; the caller decides whether the field
// was required.
func readFormFile(r *http.Request, field string) (string, []byte, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("read %s: %w", field, err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", field, err)
	}
	return header.Filename, data, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrValidation),
		errors.Is(err, app.ErrRatingOutOfRange),
		errors.Is(err, app.ErrEmailAlreadyExists),
		errors.Is(err, storage.ErrUnsupportedFileType),
		errors.Is(err, store.ErrDuplicateReview):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials),
		errors.Is(err, app.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrBookNotFound),
		errors.Is(err, app.ErrReviewNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}
