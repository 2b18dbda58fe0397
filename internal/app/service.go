package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"halalchat/api/internal/auth"
	"halalchat/api/internal/authpw"
	"halalchat/api/internal/config"
	"halalchat/api/internal/email"
	"halalchat/api/internal/export"
	"halalchat/api/internal/generation"
	"halalchat/api/internal/health"
	"halalchat/api/internal/ledger"
	"halalchat/api/internal/metrics"
	"halalchat/api/internal/ratelimit"
	"halalchat/api/internal/revisions"
	"halalchat/api/internal/search"
	"halalchat/api/internal/session"
	"halalchat/api/internal/store"
)

type Session struct {
	ID   string
	User store.User
}

type dataStore interface {
	CreateUser(context.Context, store.NewUser) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByUsername(context.Context, string) (store.User, error)
	GetUserByReferralCode(context.Context, string) (store.User, error)
	UpdateUserPassword(context.Context, string, string) error
	CountReferrals(context.Context, string) (int, error)
	AdjustCredits(context.Context, string, int) (int, error)
	EarnCredits(context.Context, store.EarnParams) (store.EarnOutcome, error)

	InsertChat(context.Context, store.ChatEntry) (store.ChatEntry, error)
	ListChats(context.Context, string, bool) ([]store.ChatEntry, error)
	SetChatFavorite(context.Context, string, string, bool) (store.ChatEntry, error)

	InsertFile(context.Context, store.File) (store.File, error)
	GetFile(context.Context, string, string) (store.File, error)
	GetFileByShareID(context.Context, string) (store.File, error)
	UpdateFile(context.Context, string, string, store.FileUpdate) (store.File, error)
	DeleteFile(context.Context, string, string) error
	SetFileFavorite(context.Context, string, string, bool) (store.File, error)
	ShareFile(context.Context, string, string, string) (string, error)
	ListFiles(context.Context, string, store.FileFilter) ([]store.File, error)
	SearchItems(context.Context, string, string) ([]store.File, []store.Folder, error)

	InsertFolder(context.Context, store.Folder) (store.Folder, error)
	GetFolder(context.Context, string, string) (store.Folder, error)
	ListFolders(context.Context, string, string) ([]store.Folder, error)
	DeleteFolder(context.Context, string, string) error

	ListNotifications(context.Context, string) ([]store.Notification, error)
	MarkNotificationsRead(context.Context, string) error
	InsertContact(context.Context, store.Contact) (store.Contact, error)
}

type Generator interface {
	Generate(ctx context.Context, req generation.Request) generation.Result
}

type SearchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	Index(record search.Record)
	Delete(id string)
}

type RevisionStore interface {
	Commit(fileID string, content revisions.Content, author, message string) (revisions.Revision, error)
	History(fileID string, limit int) ([]revisions.Revision, error)
	Get(fileID, hash string) (revisions.Content, revisions.Revision, error)
	Delete(fileID string) error
}

type Exporter interface {
	Render(ctx context.Context, doc export.Document, format export.Format) (*export.Result, error)
	ArchiveEnabled() bool
	RenderAndArchive(ctx context.Context, ownerID string, doc export.Document, format export.Format) (export.Archived, error)
}

type Mailer interface {
	IsConfigured() bool
	SendContactForward(support string, data email.ContactData) error
	SendContactAcknowledgement(data email.ContactData) error
}

type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// Options carries the collaborators built by cmd/api. Nil members fall back
// to in-process defaults or disable the feature.
type Options struct {
	Sessions  session.Store
	Limiter   ratelimit.Limiter
	Generator Generator
	Search    SearchIndex
	Revisions RevisionStore
	Exporter  Exporter
	Mailer    Mailer
	Health    HealthChecker
	Metrics   *metrics.Metrics
}

type Service struct {
	cfg       config.Config
	store     dataStore
	auth      *authpw.Service
	ledger    *ledger.Ledger
	sessions  session.Store
	limiter   ratelimit.Limiter
	generator Generator
	search    SearchIndex
	revisions RevisionStore
	exporter  Exporter
	mailer    Mailer
	health    HealthChecker
	metrics   *metrics.Metrics
	now       func() time.Time
	// background tracks best-effort work that outlives its request.
	background sync.WaitGroup
}

func New(cfg config.Config, dataStore *store.PostgresStore, opts Options) *Service {
	return newService(cfg, dataStore, opts)
}

func newService(cfg config.Config, st dataStore, opts Options) *Service {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global()
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewMemoryStore(cfg.SessionTTL)
	}
	if opts.Generator == nil {
		opts.Generator = generation.NewAdapter(generation.Config{})
	}
	if opts.Exporter == nil {
		opts.Exporter = export.NewService(nil, 0)
	}
	return &Service{
		cfg:   cfg,
		store: st,
		auth: authpw.NewService(st, authpw.Config{
			StartingCredits: cfg.StartingCredits,
			ReferralBonus:   cfg.ReferralSignupBonus,
			Metrics:         opts.Metrics,
		}),
		ledger:    ledger.New(st, opts.Metrics),
		sessions:  opts.Sessions,
		limiter:   opts.Limiter,
		generator: opts.Generator,
		search:    opts.Search,
		revisions: opts.Revisions,
		exporter:  opts.Exporter,
		mailer:    opts.Mailer,
		health:    opts.Health,
		metrics:   opts.Metrics,
		now:       time.Now,
	}
}

// Wait blocks until background side effects such as contact emails finish.
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

func (s *Service) Register(ctx context.Context, username, password, referralCode string) (Session, error) {
	user, err := s.auth.Register(ctx, authpw.RegisterRequest{
		Username:     username,
		Password:     password,
		ReferralCode: referralCode,
	})
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrDuplicateUsername):
			return Session{}, errDuplicate
		case errors.Is(err, authpw.ErrInvalidInput):
			return Session{}, validationError("Username and password are required")
		}
		return Session{}, err
	}
	log.Info().Str("user_id", user.ID).Bool("referred", user.ReferredBy != nil).Msg("user registered")
	return s.startSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.auth.Login(ctx, username, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return Session{}, errInvalidLogin
		}
		return Session{}, err
	}
	return s.startSession(ctx, user)
}

func (s *Service) startSession(ctx context.Context, user store.User) (Session, error) {
	sid, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{ID: sid, User: user}, nil
}

// SessionFromCookie verifies the signed cookie value and loads the session's user.
func (s *Service) SessionFromCookie(ctx context.Context, value string) (Session, error) {
	sid, err := s.verifyCookie(value)
	if err != nil {
		return Session{}, errUnauthorized
	}
	data, err := s.sessions.Lookup(ctx, sid)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Session{}, errUnauthorized
		}
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, data.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, errUnauthorized
		}
		return Session{}, err
	}
	return Session{ID: sid, User: user}, nil
}

// CookieValue signs a session id for the session cookie.
func (s *Service) CookieValue(sessionID string) string {
	return auth.SignSessionID([]byte(s.cfg.SessionSecret), sessionID)
}

func (s *Service) verifyCookie(value string) (string, error) {
	return auth.VerifySessionID([]byte(s.cfg.SessionSecret), value)
}

func (s *Service) Logout(ctx context.Context, cookieValue string) error {
	sid, err := s.verifyCookie(cookieValue)
	if err != nil {
		return nil
	}
	return s.sessions.Destroy(ctx, sid)
}

func (s *Service) ReferralCount(ctx context.Context, userID string) (map[string]any, error) {
	count, err := s.ledger.ReferralCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": count}, nil
}

func (s *Service) Notifications(ctx context.Context, userID string) ([]map[string]any, error) {
	items, err := s.store.ListNotifications(ctx, userID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, notificationPayload(item))
	}
	return payload, nil
}

func (s *Service) MarkNotificationsRead(ctx context.Context, userID string) error {
	return s.store.MarkNotificationsRead(ctx, userID)
}

type ContactInput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// SubmitContact stores the message and, when SMTP is configured, forwards it
// to support and acknowledges the sender in the background.
func (s *Service) SubmitContact(ctx context.Context, input ContactInput) error {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.TrimSpace(input.Email)
	input.Message = strings.TrimSpace(input.Message)
	if input.Name == "" || input.Email == "" || input.Message == "" {
		return validationError("Name, email and message are required")
	}
	if !looksLikeEmail(input.Email) {
		return validationError("Invalid email address")
	}

	contact, err := s.store.InsertContact(ctx, store.Contact{
		Name:    input.Name,
		Email:   input.Email,
		Message: input.Message,
	})
	if err != nil {
		return err
	}

	if s.mailer == nil || !s.mailer.IsConfigured() {
		return nil
	}
	data := email.ContactData{Name: contact.Name, Email: contact.Email, Message: contact.Message}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if support := s.cfg.SupportEmail; support != "" {
			if err := s.mailer.SendContactForward(support, data); err != nil {
				s.bookkeepingFailed("contact_forward", "", err)
			}
		}
		if err := s.mailer.SendContactAcknowledgement(data); err != nil {
			s.bookkeepingFailed("contact_ack", "", err)
		}
	}()
	return nil
}

// Health reports the database state; the status code is 503 when anything is wrong.
func (s *Service) Health(ctx context.Context) (int, health.Report) {
	if s.health == nil {
		return http.StatusServiceUnavailable, health.Report{
			Status:       health.StatusError,
			SchemaStatus: "unknown",
			SchemaIssues: []string{},
			Message:      "Health checks are not configured",
			Timestamp:    s.now().UTC(),
		}
	}
	report := s.health.Check(ctx)
	if !report.Healthy() {
		return http.StatusServiceUnavailable, report
	}
	return http.StatusOK, report
}

func (s *Service) bookkeepingFailed(step, userID string, err error) {
	s.metrics.BookkeepingFailures.WithLabelValues(step).Inc()
	event := log.Error().Err(err).Str("step", step)
	if userID != "" {
		event = event.Str("user_id", userID)
	}
	event.Msg("bookkeeping failed")
}

func looksLikeEmail(value string) bool {
	at := strings.LastIndex(value, "@")
	return at > 0 && at < len(value)-1 && !strings.ContainsAny(value, " \r\n")
}

// validID rejects ids that cannot be primary keys so they surface as 404
// instead of a database type error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":           user.ID,
		"username":     user.Username,
		"credits":      user.Credits,
		"referralCode": user.ReferralCode,
		"referredBy":   user.ReferredBy,
		"createdAt":    user.CreatedAt,
	}
}

func notificationPayload(item store.Notification) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"userId":    item.UserID,
		"message":   item.Message,
		"isRead":    item.IsRead,
		"createdAt": item.CreatedAt,
	}
}
