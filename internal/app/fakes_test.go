package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"halalchat/api/internal/config"
	"halalchat/api/internal/generation"
	"halalchat/api/internal/health"
	"halalchat/api/internal/store"
	"halalchat/api/internal/util"
)

// memStore is an in-memory dataStore with the same ownership and error
// semantics as the Postgres store.
type memStore struct {
	mu            sync.Mutex
	users         map[string]store.User
	chats         []store.ChatEntry
	files         map[string]store.File
	folders       map[string]store.Folder
	notifications []store.Notification
	contacts      []store.Contact

	insertChatErr error
	adjustErr     error
}

func newMemStore() *memStore {
	return &memStore{
		users:   map[string]store.User{},
		files:   map[string]store.File{},
		folders: map[string]store.Folder{},
	}
}

func (m *memStore) notify(userID, message string) {
	m.notifications = append(m.notifications, store.Notification{
		ID:        util.NewID(),
		UserID:    userID,
		Message:   message,
		CreatedAt: time.Now(),
	})
}

func (m *memStore) CreateUser(_ context.Context, input store.NewUser) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == input.User.Username {
			return store.User{}, store.ErrUsernameTaken
		}
	}
	user := input.User
	user.CreatedAt = time.Now()
	m.users[user.ID] = user
	if input.WelcomeMessage != "" {
		m.notify(user.ID, input.WelcomeMessage)
	}
	if user.ReferredBy != nil && input.ReferrerBonus > 0 {
		referrer := m.users[*user.ReferredBy]
		referrer.Credits += input.ReferrerBonus
		m.users[referrer.ID] = referrer
		m.notify(referrer.ID, input.ReferrerMessage)
	}
	return user, nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) GetUserByReferralCode(_ context.Context, code string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ReferralCode == code {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) UpdateUserPassword(_ context.Context, userID, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.Password = password
	m.users[userID] = user
	return nil
}

func (m *memStore) CountReferrals(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, u := range m.users {
		if u.ReferredBy != nil && *u.ReferredBy == userID {
			count++
		}
	}
	return count, nil
}

func (m *memStore) AdjustCredits(_ context.Context, userID string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.adjustErr != nil {
		return 0, m.adjustErr
	}
	user, ok := m.users[userID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	if user.Credits+delta < 0 {
		return 0, store.ErrInsufficientCredits
	}
	user.Credits += delta
	m.users[userID] = user
	return user.Credits, nil
}

func (m *memStore) EarnCredits(_ context.Context, params store.EarnParams) (store.EarnOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[params.UserID]
	if !ok {
		return store.EarnOutcome{}, sql.ErrNoRows
	}
	user.Credits += params.Amount
	m.users[user.ID] = user
	outcome := store.EarnOutcome{Balance: user.Credits}
	if user.ReferredBy != nil {
		if referrer, ok := m.users[*user.ReferredBy]; ok {
			referrer.Credits += params.Amount
			m.users[referrer.ID] = referrer
			m.notify(referrer.ID, params.ReferrerMessage(user.Username, params.Amount))
			outcome.ReferrerID = &referrer.ID
			outcome.ReferrerBalance = referrer.Credits
		}
	}
	return outcome, nil
}

func (m *memStore) InsertChat(_ context.Context, entry store.ChatEntry) (store.ChatEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertChatErr != nil {
		return store.ChatEntry{}, m.insertChatErr
	}
	entry.ID = util.NewID()
	entry.CreatedAt = time.Now()
	m.chats = append(m.chats, entry)
	return entry, nil
}

func (m *memStore) ListChats(_ context.Context, userID string, favoritesOnly bool) ([]store.ChatEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []store.ChatEntry{}
	for i := len(m.chats) - 1; i >= 0; i-- {
		entry := m.chats[i]
		if entry.UserID != userID || (favoritesOnly && !entry.IsFavorite) {
			continue
		}
		items = append(items, entry)
	}
	return items, nil
}

func (m *memStore) SetChatFavorite(_ context.Context, userID, chatID string, favorite bool) (store.ChatEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, entry := range m.chats {
		if entry.ID == chatID && entry.UserID == userID {
			m.chats[i].IsFavorite = favorite
			return m.chats[i], nil
		}
	}
	return store.ChatEntry{}, sql.ErrNoRows
}

func (m *memStore) InsertFile(_ context.Context, file store.File) (store.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file.ID = util.NewID()
	file.CreatedAt = time.Now()
	file.UpdatedAt = file.CreatedAt
	m.files[file.ID] = file
	return file, nil
}

func (m *memStore) GetFile(_ context.Context, userID, fileID string) (store.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[fileID]
	if !ok || file.UserID != userID {
		return store.File{}, sql.ErrNoRows
	}
	return file, nil
}

func (m *memStore) GetFileByShareID(_ context.Context, shareID string) (store.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, file := range m.files {
		if file.ShareID != nil && *file.ShareID == shareID {
			return file, nil
		}
	}
	return store.File{}, sql.ErrNoRows
}

func (m *memStore) UpdateFile(_ context.Context, userID, fileID string, update store.FileUpdate) (store.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[fileID]
	if !ok || file.UserID != userID {
		return store.File{}, sql.ErrNoRows
	}
	if update.Name != nil {
		file.Name = *update.Name
	}
	if update.Content != nil {
		file.Content = *update.Content
	}
	if update.SetFolder {
		file.FolderID = update.FolderID
	}
	file.UpdatedAt = time.Now()
	m.files[fileID] = file
	return file, nil
}

func (m *memStore) DeleteFile(_ context.Context, userID, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[fileID]
	if !ok || file.UserID != userID {
		return sql.ErrNoRows
	}
	delete(m.files, fileID)
	return nil
}

func (m *memStore) SetFileFavorite(_ context.Context, userID, fileID string, favorite bool) (store.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[fileID]
	if !ok || file.UserID != userID {
		return store.File{}, sql.ErrNoRows
	}
	file.IsFavorite = favorite
	m.files[fileID] = file
	return file, nil
}

func (m *memStore) ShareFile(_ context.Context, userID, fileID, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[fileID]
	if !ok || file.UserID != userID {
		return "", sql.ErrNoRows
	}
	if file.ShareID != nil {
		return *file.ShareID, nil
	}
	file.ShareID = &token
	m.files[fileID] = file
	return token, nil
}

func (m *memStore) ListFiles(_ context.Context, userID string, filter store.FileFilter) ([]store.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []store.File{}
	for _, file := range m.files {
		if file.UserID != userID {
			continue
		}
		switch {
		case filter.FolderID != "":
			if file.FolderID == nil || *file.FolderID != filter.FolderID {
				continue
			}
		case filter.RootOnly:
			if file.FolderID != nil {
				continue
			}
		}
		if filter.FavoritesOnly && !file.IsFavorite {
			continue
		}
		items = append(items, file)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (m *memStore) SearchItems(_ context.Context, userID, query string) ([]store.File, []store.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(query)
	files := []store.File{}
	for _, file := range m.files {
		if file.UserID == userID && (strings.Contains(strings.ToLower(file.Name), needle) || strings.Contains(strings.ToLower(file.Content), needle)) {
			files = append(files, file)
		}
	}
	folders := []store.Folder{}
	for _, folder := range m.folders {
		if folder.UserID == userID && strings.Contains(strings.ToLower(folder.Name), needle) {
			folders = append(folders, folder)
		}
	}
	return files, folders, nil
}

func (m *memStore) InsertFolder(_ context.Context, folder store.Folder) (store.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	folder.ID = util.NewID()
	folder.CreatedAt = time.Now()
	m.folders[folder.ID] = folder
	return folder, nil
}

func (m *memStore) GetFolder(_ context.Context, userID, folderID string) (store.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	folder, ok := m.folders[folderID]
	if !ok || folder.UserID != userID {
		return store.Folder{}, sql.ErrNoRows
	}
	return folder, nil
}

func (m *memStore) ListFolders(_ context.Context, userID, parentID string) ([]store.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []store.Folder{}
	for _, folder := range m.folders {
		if folder.UserID != userID {
			continue
		}
		if parentID != "" && (folder.ParentID == nil || *folder.ParentID != parentID) {
			continue
		}
		items = append(items, folder)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (m *memStore) DeleteFolder(_ context.Context, userID, folderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	folder, ok := m.folders[folderID]
	if !ok || folder.UserID != userID {
		return sql.ErrNoRows
	}
	for _, file := range m.files {
		if file.FolderID != nil && *file.FolderID == folderID {
			return store.ErrFolderNotEmpty
		}
	}
	delete(m.folders, folderID)
	return nil
}

func (m *memStore) ListNotifications(_ context.Context, userID string) ([]store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []store.Notification{}
	for i := len(m.notifications) - 1; i >= 0; i-- {
		if m.notifications[i].UserID == userID {
			items = append(items, m.notifications[i])
		}
	}
	return items, nil
}

func (m *memStore) MarkNotificationsRead(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		if m.notifications[i].UserID == userID {
			m.notifications[i].IsRead = true
		}
	}
	return nil
}

func (m *memStore) InsertContact(_ context.Context, contact store.Contact) (store.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	contact.ID = util.NewID()
	contact.CreatedAt = time.Now()
	m.contacts = append(m.contacts, contact)
	return contact, nil
}

func (m *memStore) user(t *testing.T, username string) store.User {
	t.Helper()
	user, err := m.GetUserByUsername(context.Background(), username)
	if err != nil {
		t.Fatalf("lookup %s: %v", username, err)
	}
	return user
}

func (m *memStore) setCredits(t *testing.T, username string, credits int) {
	t.Helper()
	user := m.user(t, username)
	m.mu.Lock()
	user.Credits = credits
	m.users[user.ID] = user
	m.mu.Unlock()
}

type countingGenerator struct {
	mu    sync.Mutex
	calls int
	text  string
}

func (g *countingGenerator) Generate(_ context.Context, req generation.Request) generation.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	text := g.text
	if text == "" {
		text = "Generated answer for: " + req.Prompt
	}
	return generation.Result{Text: text, Source: generation.SourceFallback}
}

func (g *countingGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeHealth struct {
	report health.Report
}

func (f fakeHealth) Check(context.Context) health.Report {
	return f.report
}

func testConfig() config.Config {
	return config.Config{
		SessionSecret:         "test-secret",
		SessionTTL:            time.Hour,
		StartingCredits:       20,
		ReferralSignupBonus:   1,
		GenerationHourlyLimit: 30,
		EarnHourlyLimit:       5,
	}
}

type testEnv struct {
	t         *testing.T
	store     *memStore
	generator *countingGenerator
	service   *Service
	handler   http.Handler
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	st := newMemStore()
	gen := &countingGenerator{}
	if opts.Generator == nil {
		opts.Generator = gen
	}
	svc := newService(testConfig(), st, opts)
	return &testEnv{
		t:         t,
		store:     st,
		generator: gen,
		service:   svc,
		handler:   NewHTTPServer(svc, "*").Handler(),
	}
}

// do sends a JSON request with an optional session cookie.
func (e *testEnv) do(method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// register signs a user up and returns their session cookie.
func (e *testEnv) register(username, referrer string) *http.Cookie {
	e.t.Helper()
	body := map[string]any{"username": username, "password": "pw-" + username}
	if referrer != "" {
		body["referrer"] = referrer
	}
	rr := e.do(http.MethodPost, "/api/register", body, nil)
	if rr.Code != http.StatusCreated {
		e.t.Fatalf("register %s: expected 201, got %d body=%s", username, rr.Code, rr.Body.String())
	}
	return sessionCookie(e.t, rr)
}

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == sessionCookieName {
			return cookie
		}
	}
	t.Fatalf("expected %s cookie in response", sessionCookieName)
	return nil
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func decodeList(t *testing.T, rr *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var payload []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func assertCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
	if code == "" {
		return
	}
	payload := decodeMap(t, rr)
	if payload["code"] != code {
		t.Fatalf("expected code %s, got %v", code, payload["code"])
	}
}
