// Package httpapi exposes the REST surface of the service: user
// registration, the post board, and the match lifecycle. Realtime chat is
// not served here; it lives on the WebSocket endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/inoue-kamui/20match/internal/fault"
	"github.com/inoue-kamui/20match/internal/match"
	"github.com/inoue-kamui/20match/internal/post"
	"github.com/inoue-kamui/20match/internal/ratelimit"
	"github.com/inoue-kamui/20match/internal/user"
)

// UserDirectory is the user persistence surface the API depends on.
type UserDirectory interface {
	Create(ctx context.Context, in user.CreateInput) (*user.User, error)
	FindByID(ctx context.Context, id string) (*user.User, error)
}

// PostBoard is the post persistence surface the API depends on.
type PostBoard interface {
	Create(ctx context.Context, userID, content, purposeTag string) (*post.Post, error)
	List(ctx context.Context, f post.Filters) (*post.Page, error)
}

// Matcher drives the match lifecycle.
type Matcher interface {
	Apply(ctx context.Context, applicantID, postID string) (*match.Match, error)
	Approve(ctx context.Context, requesterID, matchID string) (*match.Match, *match.Room, error)
}

// Limiter is the rate-limit check applied to match applications.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// API holds the REST handlers and their dependencies.
type API struct {
	users   UserDirectory
	posts   PostBoard
	matches Matcher
	limiter Limiter // nil disables application throttling
}

// New creates the API. limiter may be nil.
func New(users UserDirectory, posts PostBoard, matches Matcher, limiter Limiter) *API {
	return &API{users: users, posts: posts, matches: matches, limiter: limiter}
}

// Register mounts the API routes on the given mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /users", a.handleCreateUser)
	mux.HandleFunc("GET /users/{id}", a.handleGetUser)
	mux.HandleFunc("POST /posts", a.handleCreatePost)
	mux.HandleFunc("GET /posts", a.handleListPosts)
	mux.HandleFunc("POST /matches/apply", a.handleApply)
	mux.HandleFunc("POST /matches/{id}/approve", a.handleApprove)
}

// ---------------------------------------------------------------------------
// Wire DTOs
// ---------------------------------------------------------------------------

type userDTO struct {
	ID         string    `json:"id"`
	Nickname   string    `json:"nickname"`
	Gender     string    `json:"gender"`
	Age        int       `json:"age"`
	Prefecture string    `json:"prefecture"`
	CreatedAt  time.Time `json:"createdAt"`
}

type postDTO struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Content    string    `json:"content"`
	PurposeTag string    `json:"purposeTag"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type matchDTO struct {
	ID          string    `json:"id"`
	PostID      string    `json:"postId"`
	ApplicantID string    `json:"applicantId"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type roomDTO struct {
	ID        string    `json:"id"`
	MatchID   string    `json:"matchId"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserDTO(u *user.User) userDTO {
	return userDTO{
		ID:         u.ID,
		Nickname:   u.Nickname,
		Gender:     u.Gender,
		Age:        u.Age,
		Prefecture: u.Prefecture,
		CreatedAt:  u.CreatedAt,
	}
}

func toPostDTO(p *post.Post) postDTO {
	return postDTO{
		ID:         p.ID,
		UserID:     p.UserID,
		Content:    p.Content,
		PurposeTag: p.PurposeTag,
		CreatedAt:  p.CreatedAt,
		ExpiresAt:  p.ExpiresAt,
	}
}

func toMatchDTO(m *match.Match) matchDTO {
	return matchDTO{
		ID:          m.ID,
		PostID:      m.PostID,
		ApplicantID: m.ApplicantID,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Nickname   string `json:"nickname"`
		Gender     string `json:"gender"`
		Age        int    `json:"age"`
		Prefecture string `json:"prefecture"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	u, err := a.users.Create(r.Context(), user.CreateInput{
		Nickname:   body.Nickname,
		Gender:     body.Gender,
		Age:        body.Age,
		Prefecture: body.Prefecture,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	u, err := a.users.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if u == nil {
		writeError(w, fault.NotFound("user not found"))
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

func (a *API) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	userID, err := identify(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		Content    string `json:"content"`
		PurposeTag string `json:"purposeTag"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	p, err := a.posts.Create(r.Context(), userID, body.Content, body.PurposeTag)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostDTO(p))
}

func (a *API) handleListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := post.Filters{
		PurposeTag: q.Get("purposeTag"),
		Prefecture: q.Get("prefecture"),
		Gender:     q.Get("gender"),
		Cursor:     q.Get("cursor"),
	}
	var err error
	if f.MinAge, err = intParam(q.Get("minAge")); err != nil {
		writeError(w, fault.InvalidRequest("minAge must be an integer"))
		return
	}
	if f.MaxAge, err = intParam(q.Get("maxAge")); err != nil {
		writeError(w, fault.InvalidRequest("maxAge must be an integer"))
		return
	}
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, fault.InvalidRequest("limit must be an integer"))
		return
	}

	page, err := a.posts.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]postDTO, len(page.Items))
	for i := range page.Items {
		items[i] = toPostDTO(&page.Items[i])
	}
	writeJSON(w, http.StatusOK, struct {
		Items      []postDTO `json:"items"`
		NextCursor string    `json:"nextCursor,omitempty"`
	}{Items: items, NextCursor: page.NextCursor})
}

func (a *API) handleApply(w http.ResponseWriter, r *http.Request) {
	userID, err := identify(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if a.limiter != nil {
		allowed, limErr := a.limiter.Allow(r.Context(), userID, ratelimit.RuleApply)
		if limErr == nil && !allowed {
			w.Header().Set("Retry-After", "60")
			writeError(w, fault.Conflict("too many applications, try again later"))
			return
		}
	}

	var body struct {
		PostID string `json:"postId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	m, err := a.matches.Apply(r.Context(), userID, body.PostID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMatchDTO(m))
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	userID, err := identify(r)
	if err != nil {
		writeError(w, err)
		return
	}

	matchID := r.PathValue("id")
	m, room, err := a.matches.Approve(r.Context(), userID, matchID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Match    matchDTO `json:"match"`
		ChatRoom roomDTO  `json:"chatRoom"`
	}{
		Match:    toMatchDTO(m),
		ChatRoom: roomDTO{ID: room.ID, MatchID: room.MatchID, CreatedAt: room.CreatedAt},
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// identify extracts the acting user from the X-User-Id header. The REST
// surface accepts the header only; WebSocket upgrades have wider fallbacks.
func identify(r *http.Request) (string, error) {
	raw := r.Header.Get("X-User-Id")
	if raw == "" {
		return "", fault.Unauthorized("missing X-User-Id header")
	}
	id, err := uuid.Parse(raw)
	if err != nil || id.Version() != 4 {
		return "", fault.Unauthorized("X-User-Id must be a v4 UUID")
	}
	return id.String(), nil
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fault.InvalidRequest("malformed JSON body")
	}
	return nil
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("httpapi: bad integer %q: %w", raw, err)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

// writeError maps a domain error onto an HTTP status and a JSON error body.
func writeError(w http.ResponseWriter, err error) {
	code := fault.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case fault.CodeNotFound:
		status = http.StatusNotFound
	case fault.CodeInvalidRequest:
		status = http.StatusBadRequest
	case fault.CodeConflict:
		status = http.StatusConflict
	case fault.CodeForbidden:
		status = http.StatusForbidden
	case fault.CodeUnauthorized:
		status = http.StatusUnauthorized
	}

	if status == http.StatusInternalServerError {
		log.Printf("httpapi: internal error: %v", err)
	}

	writeJSON(w, status, errorBody{Error: errorInfo{
		Code:    string(code),
		Message: fault.MessageOf(err),
	}})
}

type errorBody struct {
	Error errorInfo `json:"error"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
