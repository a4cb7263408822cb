package server

import (
	"dm-relay/auth"
	"dm-relay/domain/chat"
	"dm-relay/errors"
	"dm-relay/observability"
	"dm-relay/services"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"
)

type MessageResponse struct {
	ID         uint64    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

type HistoryResponse struct {
	Messages   []MessageResponse `json:"messages"`
	NextBefore *uint64           `json:"nextBefore,omitempty"`
}

type UserResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type ConversationResponse struct {
	OtherUser     UserResponse    `json:"otherUser"`
	LatestMessage MessageResponse `json:"latestMessage"`
}

type RecentResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// HistoryServer is the stateless read surface plus the identity endpoints.
type HistoryServer struct {
	log         *slog.Logger
	chatService services.IChatService
	authService services.IAuthService
	tokens      auth.ITokenValidator
	stats       *observability.Collector
}

func NewHistoryServer(log *slog.Logger,
	chatService services.IChatService,
	authService services.IAuthService,
	tokens auth.ITokenValidator,
	stats *observability.Collector) *HistoryServer {
	return &HistoryServer{
		log:         log,
		chatService: chatService,
		authService: authService,
		tokens:      tokens,
		stats:       stats,
	}
}

// Routes mounts every endpoint; realtime is served by the given gateway on /ws.
func (s *HistoryServer) Routes(gateway http.Handler) http.Handler {
	protected := auth.Middleware(s.tokens, s.writeError)

	mux := http.NewServeMux()
	mux.Handle("GET /conversations/recent", protected(http.HandlerFunc(s.GetRecent)))
	mux.Handle("GET /conversations/{otherUserId}", protected(http.HandlerFunc(s.GetConversation)))
	mux.Handle("GET /conversations/{otherUserId}/search", protected(http.HandlerFunc(s.SearchConversation)))
	mux.HandleFunc("POST /auth/register", s.Register)
	mux.HandleFunc("POST /auth/login", s.Login)
	mux.HandleFunc("GET /debug/stats", s.GetStats)
	if gateway != nil {
		mux.Handle("GET /ws", gateway)
	}
	return mux
}

func (s *HistoryServer) GetConversation(w http.ResponseWriter, r *http.Request) {
	self, _ := auth.UserIDFromContext(r.Context())
	page, err := parsePage(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	history, err := s.chatService.GetHistory(r.Context(), chat.GetHistoryCommand{
		Self:  self,
		Other: chat.UserID(r.PathValue("otherUserId")),
		Page:  page,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{
		Messages:   toMessageResponses(history.Messages),
		NextBefore: history.NextBefore,
	})
}

func (s *HistoryServer) GetRecent(w http.ResponseWriter, r *http.Request) {
	self, _ := auth.UserIDFromContext(r.Context())
	summaries, err := s.chatService.GetRecentConversations(r.Context(), self)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, RecentResponse{
		Conversations: lo.Map(summaries, func(c chat.ConversationSummary, _ int) ConversationResponse {
			return ConversationResponse{
				OtherUser: UserResponse{
					ID:     c.OtherUser.ID.String(),
					Name:   c.OtherUser.Name,
					Avatar: c.OtherUser.Avatar,
				},
				LatestMessage: toMessageResponse(c.LatestMessage),
			}
		}),
	})
}

func (s *HistoryServer) SearchConversation(w http.ResponseWriter, r *http.Request) {
	self, _ := auth.UserIDFromContext(r.Context())
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: limit", errors.ErrInvalidCursor))
			return
		}
		limit = parsed
	}

	found, err := s.chatService.Search(r.Context(), chat.SearchCommand{
		Self:  self,
		Other: chat.UserID(r.PathValue("otherUserId")),
		Terms: r.URL.Query().Get("q"),
		Limit: limit,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{Messages: toMessageResponses(found)})
}

func (s *HistoryServer) Register(w http.ResponseWriter, r *http.Request) {
	var body auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errors.ErrMalformedFrame)
		return
	}
	token, err := s.authService.Register(body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, TokenResponse{Token: token.String()})
}

func (s *HistoryServer) Login(w http.ResponseWriter, r *http.Request) {
	var body auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errors.ErrMalformedFrame)
		return
	}
	token, err := s.authService.Login(body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TokenResponse{Token: token.String()})
}

func (s *HistoryServer) GetStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

// parsePage reads before/after/limit; absent values stay nil.
func parsePage(r *http.Request) (chat.Page, error) {
	query := r.URL.Query()
	var page chat.Page
	for _, cursor := range []struct {
		name   string
		target **uint64
	}{{"before", &page.Before}, {"after", &page.After}} {
		raw := query.Get(cursor.name)
		if raw == "" {
			continue
		}
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return chat.Page{}, fmt.Errorf("%w: %s", errors.ErrInvalidCursor, cursor.name)
		}
		*cursor.target = lo.ToPtr(value)
	}
	if raw := query.Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return chat.Page{}, fmt.Errorf("%w: limit", errors.ErrInvalidCursor)
		}
		page.Limit = lo.ToPtr(value)
	}
	return page, nil
}

func toMessageResponse(m chat.Message) MessageResponse {
	return MessageResponse{
		ID:         m.ID,
		SenderID:   m.SenderID.String(),
		ReceiverID: m.ReceiverID.String(),
		Content:    m.Content,
		Timestamp:  m.CreatedAt.UTC(),
	}
}

func toMessageResponses(messages []chat.Message) []MessageResponse {
	return lo.Map(messages, func(m chat.Message, _ int) MessageResponse {
		return toMessageResponse(m)
	})
}

func (s *HistoryServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug("Response write failed", "error", err)
	}
}

func (s *HistoryServer) writeError(w http.ResponseWriter, err error) {
	status := errors.MapToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", "error", err)
	}
	reason := errors.Reason(err)
	switch {
	case errors.Is(err, errors.ErrInvalidCredentials):
		reason = "invalid_credentials"
	case errors.Is(err, errors.ErrUserAlreadyExists):
		reason = "user_already_exists"
	case errors.Is(err, errors.ErrInvalidPassword):
		reason = "invalid_password"
	case errors.Is(err, errors.ErrUserNotFound):
		reason = "user_not_found"
	}
	s.writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Reason: reason})
}
