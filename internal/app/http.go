package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"halalchat/api/internal/metrics"
	"halalchat/api/internal/search"
	"halalchat/api/internal/store"
)

const sessionCookieName = "halal.sid"

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		metrics.Handler().ServeHTTP(w, r)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		status, report := s.service.Health(r.Context())
		writeJSON(w, status, report)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/register" {
		s.handleRegister(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/login" {
		s.handleLogin(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/logout" {
		if cookie, err := r.Cookie(sessionCookieName); err == nil {
			if err := s.service.Logout(r.Context(), cookie.Value); err != nil {
				log.Warn().Err(err).Msg("destroy session")
			}
		}
		s.clearSessionCookie(w)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/contact" {
		var body ContactInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SubmitContact(r.Context(), body); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)

	if r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "api" && parts[1] == "shared-files" {
		payload, err := s.service.SharedFile(r.Context(), parts[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 0 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	userID := session.User.ID

	if r.Method == http.MethodGet && r.URL.Path == "/api/user" {
		writeJSON(w, http.StatusOK, userPayload(session.User))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/user/referral-credits" {
		payload, err := s.service.ReferralCount(ctx, userID)
		s.respond(w, r, payload, err)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/credits/earn" {
		var body struct {
			Reason string `json:"reason"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.EarnCredits(ctx, userID, body.Reason)
		s.respond(w, r, payload, err)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/chat" {
		var body ChatInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.Chat(ctx, session.User, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result.Payload())
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/chat/history" {
		payload, err := s.service.ChatHistory(ctx, userID, false)
		s.respond(w, r, payload, err)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/chat/favorites" {
		payload, err := s.service.ChatHistory(ctx, userID, true)
		s.respond(w, r, payload, err)
		return
	}

	if r.Method == http.MethodPost && len(parts) == 4 && parts[1] == "chat" && parts[3] == "favorite" {
		favorite, ok := decodeFavorite(w, r)
		if !ok {
			return
		}
		payload, err := s.service.SetChatFavorite(ctx, userID, parts[2], favorite)
		s.respond(w, r, payload, err)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/notifications" {
		payload, err := s.service.Notifications(ctx, userID)
		s.respond(w, r, payload, err)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/notifications/mark-read" {
		if err := s.service.MarkNotificationsRead(ctx, userID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		writeJSON(w, http.StatusOK, s.service.Search(ctx, search.Query{
			UserID: userID,
			Text:   strings.TrimSpace(query.Get("q")),
			Limit:  limit,
			Offset: offset,
		}))
		return
	}

	if len(parts) >= 2 && parts[1] == "files" {
		s.handleFiles(w, r, session, parts)
		return
	}

	if len(parts) >= 2 && parts[1] == "folders" {
		s.handleFolders(w, r, session, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username     string `json:"username"`
		Password     string `json:"password"`
		Referrer     string `json:"referrer"`
		ReferralCode string `json:"referralCode"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	referral := body.Referrer
	if referral == "" {
		referral = body.ReferralCode
	}

	session, err := s.service.Register(r.Context(), body.Username, body.Password, strings.TrimSpace(referral))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.setSessionCookie(w, session.ID)
	writeJSON(w, http.StatusCreated, userPayload(session.User))
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.setSessionCookie(w, session.ID)
	writeJSON(w, http.StatusOK, userPayload(session.User))
}

func (s *HTTPServer) handleFiles(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()
	userID := session.User.ID

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListFiles(ctx, userID, store.FileFilter{RootOnly: true})
			s.respond(w, r, payload, err)
		case http.MethodPost:
			var body CreateFileInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateFile(ctx, session.User, body)
			s.respond(w, r, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 3 && r.Method == http.MethodGet && parts[2] == "search" {
		payload, err := s.service.SearchFiles(ctx, userID, r.URL.Query().Get("q"))
		s.respond(w, r, payload, err)
		return
	}

	if len(parts) == 3 && r.Method == http.MethodGet && parts[2] == "favorites" {
		payload, err := s.service.ListFiles(ctx, userID, store.FileFilter{FavoritesOnly: true})
		s.respond(w, r, payload, err)
		return
	}

	fileID := parts[2]

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetFile(ctx, userID, fileID)
			s.respond(w, r, payload, err)
		case http.MethodPut:
			input, err := decodeFileUpdate(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateFile(ctx, session.User, fileID, input)
			s.respond(w, r, payload, err)
		case http.MethodDelete:
			if err := s.service.DeleteFile(ctx, userID, fileID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	action := parts[3]

	if len(parts) == 4 && r.Method == http.MethodPost && action == "move" {
		var body struct {
			FolderID *string `json:"folderId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.MoveFile(ctx, session.User, fileID, body.FolderID)
		s.respond(w, r, payload, err)
		return
	}

	if len(parts) == 4 && r.Method == http.MethodPost && action == "favorite" {
		favorite, ok := decodeFavorite(w, r)
		if !ok {
			return
		}
		payload, err := s.service.SetFileFavorite(ctx, userID, fileID, favorite)
		s.respond(w, r, payload, err)
		return
	}

	if len(parts) == 4 && r.Method == http.MethodPost && action == "share" {
		payload, err := s.service.ShareFile(ctx, userID, fileID)
		s.respond(w, r, payload, err)
		return
	}

	if action == "revisions" && r.Method == http.MethodGet {
		if len(parts) == 4 {
			payload, err := s.service.FileRevisions(ctx, userID, fileID)
			s.respond(w, r, payload, err)
			return
		}
		if len(parts) == 5 {
			payload, err := s.service.FileRevision(ctx, userID, fileID, parts[4])
			s.respond(w, r, payload, err)
			return
		}
	}

	if len(parts) == 4 && action == "export" {
		switch r.Method {
		case http.MethodGet:
			result, err := s.service.ExportFile(ctx, session.User, fileID, r.URL.Query().Get("format"))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
			w.Header().Set("Content-Type", result.MimeType)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(result.Data)
		case http.MethodPost:
			var body struct {
				Format string `json:"format"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.ArchiveExport(ctx, session.User, fileID, body.Format)
			s.respond(w, r, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleFolders(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()
	userID := session.User.ID

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListFolders(ctx, userID)
			s.respond(w, r, payload, err)
		case http.MethodPost:
			var body CreateFolderInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateFolder(ctx, userID, body)
			s.respond(w, r, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	folderID := parts[2]

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.DeleteFolder(ctx, userID, folderID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && r.Method == http.MethodGet && parts[3] == "contents" {
		payload, err := s.service.FolderContents(ctx, userID, folderID)
		s.respond(w, r, payload, err)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromCookie(r.Context(), cookie.Value)
	if err != nil {
		s.fail(w, r, err)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    s.service.CookieValue(sessionID),
		Path:     "/",
		MaxAge:   int(s.service.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.service.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *HTTPServer) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.service.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, payload any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// fail maps err onto the wire taxonomy. Unexpected errors are logged with the
// request id and never echoed to the client.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", requestIDFrom(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		if details == nil {
			details = map[string]any{"requestId": requestIDFrom(r.Context())}
		}
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	m := s.service.metrics
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		m.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(writer.status)).Inc()
		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	if corsOrigin != "*" {
		header.Set("Access-Control-Allow-Credentials", "true")
		header.Add("Vary", "Origin")
	}
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func decodeFavorite(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var body struct {
		IsFavorite *bool `json:"isFavorite"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false, false
	}
	if body.IsFavorite == nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "isFavorite must be a boolean", nil)
		return false, false
	}
	return *body.IsFavorite, true
}

// decodeFileUpdate keeps the difference between an absent folderId and an explicit null.
func decodeFileUpdate(r *http.Request) (UpdateFileInput, error) {
	var body struct {
		Name     *string         `json:"name"`
		Content  *string         `json:"content"`
		FolderID json.RawMessage `json:"folderId"`
	}
	if err := decodeBody(r, &body); err != nil {
		return UpdateFileInput{}, err
	}
	input := UpdateFileInput{Name: body.Name, Content: body.Content}
	if len(body.FolderID) > 0 {
		input.SetFolder = true
		if string(body.FolderID) != "null" {
			var folderID string
			if err := json.Unmarshal(body.FolderID, &folderID); err != nil {
				return UpdateFileInput{}, fmt.Errorf("folderId must be a string or null")
			}
			input.FolderID = &folderID
		}
	}
	return input, nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Service temporarily unavailable. Please try again later.", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Something went wrong. Please try again later.", nil
}
