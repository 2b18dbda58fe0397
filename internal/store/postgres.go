package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"

	"halalchat/api/internal/util"
)

type PostgresStore struct {
	db  *sql.DB
	sql sq.StatementBuilderType
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:  db,
		sql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, username, password, credits, referral_code, referred_by, created_at`

func scanUser(row rowScanner) (User, error) {
	var user User
	var referredBy sql.NullString
	if err := row.Scan(&user.ID, &user.Username, &user.Password, &user.Credits, &user.ReferralCode, &referredBy, &user.CreatedAt); err != nil {
		return User{}, err
	}
	user.ReferredBy = nullableString(referredBy)
	return user, nil
}

// CreateUser inserts the user, their welcome notification and, when a referrer
// is set, the referrer's signup bonus and notification in one transaction.
func (s *PostgresStore) CreateUser(ctx context.Context, input NewUser) (User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("begin create user tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	user, err := scanUser(tx.QueryRowContext(ctx, `
		INSERT INTO users (id, username, password, credits, referral_code, referred_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		input.User.ID, input.User.Username, input.User.Password, input.User.Credits, input.User.ReferralCode, input.User.ReferredBy,
	))
	if err != nil {
		if isUniqueViolation(err, "users_username_key") {
			return User{}, ErrUsernameTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	if input.WelcomeMessage != "" {
		if err := insertNotification(ctx, tx, user.ID, input.WelcomeMessage); err != nil {
			return User{}, err
		}
	}

	if user.ReferredBy != nil && input.ReferrerBonus > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET credits = credits + $1 WHERE id = $2`, input.ReferrerBonus, *user.ReferredBy); err != nil {
			return User{}, fmt.Errorf("credit referrer signup bonus: %w", err)
		}
		if input.ReferrerMessage != "" {
			if err := insertNotification(ctx, tx, *user.ReferredBy, input.ReferrerMessage); err != nil {
				return User{}, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("commit create user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (s *PostgresStore) GetUserByReferralCode(ctx context.Context, code string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code))
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, password string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET password = $1 WHERE id = $2`, password, userID)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) CountReferrals(ctx context.Context, userID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE referred_by = $1`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count referrals: %w", err)
	}
	return count, nil
}

// AdjustCredits applies delta in a single statement and refuses to go below zero.
func (s *PostgresStore) AdjustCredits(ctx context.Context, userID string, delta int) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx, `
		UPDATE users SET credits = credits + $1
		WHERE id = $2 AND credits + $1 >= 0
		RETURNING credits
	`, delta, userID).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("adjust credits: %w", err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check user exists: %w", err)
	}
	if !exists {
		return 0, sql.ErrNoRows
	}
	return 0, ErrInsufficientCredits
}

// EarnCredits credits the earner and, single-hop, their referrer, and records
// the referrer's notification. Either all of it commits or none of it does.
func (s *PostgresStore) EarnCredits(ctx context.Context, params EarnParams) (EarnOutcome, error) {
	if params.Amount <= 0 {
		return EarnOutcome{}, fmt.Errorf("earn amount must be positive, got %d", params.Amount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return EarnOutcome{}, fmt.Errorf("begin earn tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var outcome EarnOutcome
	var username string
	var referredBy sql.NullString
	err = tx.QueryRowContext(ctx, `
		UPDATE users SET credits = credits + $1
		WHERE id = $2
		RETURNING credits, username, referred_by
	`, params.Amount, params.UserID).Scan(&outcome.Balance, &username, &referredBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EarnOutcome{}, err
		}
		return EarnOutcome{}, fmt.Errorf("credit earner: %w", err)
	}

	if referredBy.Valid {
		referrerID := referredBy.String
		if err := tx.QueryRowContext(ctx, `
			UPDATE users SET credits = credits + $1
			WHERE id = $2
			RETURNING credits
		`, params.Amount, referrerID).Scan(&outcome.ReferrerBalance); err != nil {
			return EarnOutcome{}, fmt.Errorf("credit referrer: %w", err)
		}
		message := fmt.Sprintf("You received %d credit(s) because %s earned credits!", params.Amount, username)
		if params.ReferrerMessage != nil {
			message = params.ReferrerMessage(username, params.Amount)
		}
		if err := insertNotification(ctx, tx, referrerID, message); err != nil {
			return EarnOutcome{}, err
		}
		outcome.ReferrerID = &referrerID
	}

	if err := tx.Commit(); err != nil {
		return EarnOutcome{}, fmt.Errorf("commit earn: %w", err)
	}
	return outcome, nil
}

const chatColumns = `id, user_id, prompt, response, is_favorite, created_at`

func scanChat(row rowScanner) (ChatEntry, error) {
	var entry ChatEntry
	if err := row.Scan(&entry.ID, &entry.UserID, &entry.Prompt, &entry.Response, &entry.IsFavorite, &entry.CreatedAt); err != nil {
		return ChatEntry{}, err
	}
	return entry, nil
}

func (s *PostgresStore) InsertChat(ctx context.Context, entry ChatEntry) (ChatEntry, error) {
	if entry.ID == "" {
		entry.ID = util.NewID()
	}
	saved, err := scanChat(s.db.QueryRowContext(ctx, `
		INSERT INTO chat_history (id, user_id, prompt, response)
		VALUES ($1, $2, $3, $4)
		RETURNING `+chatColumns,
		entry.ID, entry.UserID, entry.Prompt, entry.Response,
	))
	if err != nil {
		return ChatEntry{}, fmt.Errorf("insert chat history: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) ListChats(ctx context.Context, userID string, favoritesOnly bool) ([]ChatEntry, error) {
	q := s.sql.Select(chatColumns).From("chat_history").Where(sq.Eq{"user_id": userID})
	if favoritesOnly {
		q = q.Where(sq.Eq{"is_favorite": true})
	}
	q = q.OrderBy("created_at DESC", "id DESC")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build chat history query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list chat history: %w", err)
	}
	defer rows.Close()

	items := make([]ChatEntry, 0)
	for rows.Next() {
		entry, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat history: %w", err)
		}
		items = append(items, entry)
	}
	return items, rows.Err()
}

func (s *PostgresStore) SetChatFavorite(ctx context.Context, userID, chatID string, favorite bool) (ChatEntry, error) {
	return scanChat(s.db.QueryRowContext(ctx, `
		UPDATE chat_history SET is_favorite = $1
		WHERE id = $2 AND user_id = $3
		RETURNING `+chatColumns,
		favorite, chatID, userID,
	))
}

const fileColumns = `id, user_id, name, content, folder_id, is_favorite, share_id, created_at, updated_at`

func scanFile(row rowScanner) (File, error) {
	var file File
	var folderID, shareID sql.NullString
	if err := row.Scan(&file.ID, &file.UserID, &file.Name, &file.Content, &folderID, &file.IsFavorite, &shareID, &file.CreatedAt, &file.UpdatedAt); err != nil {
		return File{}, err
	}
	file.FolderID = nullableString(folderID)
	file.ShareID = nullableString(shareID)
	return file, nil
}

func (s *PostgresStore) InsertFile(ctx context.Context, file File) (File, error) {
	if file.ID == "" {
		file.ID = util.NewID()
	}
	saved, err := scanFile(s.db.QueryRowContext(ctx, `
		INSERT INTO files (id, user_id, name, content, folder_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+fileColumns,
		file.ID, file.UserID, file.Name, file.Content, file.FolderID,
	))
	if err != nil {
		return File{}, fmt.Errorf("insert file: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) GetFile(ctx context.Context, userID, fileID string) (File, error) {
	return scanFile(s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1 AND user_id = $2`, fileID, userID))
}

func (s *PostgresStore) GetFileByShareID(ctx context.Context, shareID string) (File, error) {
	return scanFile(s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE share_id = $1`, shareID))
}

func (s *PostgresStore) UpdateFile(ctx context.Context, userID, fileID string, update FileUpdate) (File, error) {
	if update.Empty() {
		return s.GetFile(ctx, userID, fileID)
	}

	values := map[string]any{"updated_at": time.Now().UTC()}
	if update.Name != nil {
		values["name"] = *update.Name
	}
	if update.Content != nil {
		values["content"] = *update.Content
	}
	if update.SetFolder {
		values["folder_id"] = update.FolderID
	}

	sqlStr, args, err := s.sql.Update("files").
		SetMap(values).
		Where(sq.Eq{"id": fileID, "user_id": userID}).
		Suffix("RETURNING " + fileColumns).
		ToSql()
	if err != nil {
		return File{}, fmt.Errorf("build file update: %w", err)
	}
	return scanFile(s.db.QueryRowContext(ctx, sqlStr, args...))
}

func (s *PostgresStore) DeleteFile(ctx context.Context, userID, fileID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1 AND user_id = $2`, fileID, userID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) SetFileFavorite(ctx context.Context, userID, fileID string, favorite bool) (File, error) {
	return scanFile(s.db.QueryRowContext(ctx, `
		UPDATE files SET is_favorite = $1
		WHERE id = $2 AND user_id = $3
		RETURNING `+fileColumns,
		favorite, fileID, userID,
	))
}

// ShareFile assigns token unless the file already has one, and returns the token in effect.
func (s *PostgresStore) ShareFile(ctx context.Context, userID, fileID, token string) (string, error) {
	var shareID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE files SET share_id = COALESCE(share_id, $1)
		WHERE id = $2 AND user_id = $3
		RETURNING share_id
	`, token, fileID, userID).Scan(&shareID)
	if err != nil {
		return "", err
	}
	return shareID, nil
}

func (s *PostgresStore) ListFiles(ctx context.Context, userID string, filter FileFilter) ([]File, error) {
	q := s.sql.Select(fileColumns).From("files").Where(sq.Eq{"user_id": userID})
	switch {
	case filter.FolderID != "":
		q = q.Where(sq.Eq{"folder_id": filter.FolderID})
	case filter.RootOnly:
		q = q.Where(sq.Eq{"folder_id": nil})
	}
	if filter.FavoritesOnly {
		q = q.Where(sq.Eq{"is_favorite": true})
	}
	q = q.OrderBy("created_at DESC", "id DESC")
	return s.queryFiles(ctx, q)
}

func (s *PostgresStore) queryFiles(ctx context.Context, q sq.SelectBuilder) ([]File, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build files query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	items := make([]File, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		items = append(items, file)
	}
	return items, rows.Err()
}

// SearchItems matches query as a case-insensitive substring of file names,
// file content and folder names. An empty query returns everything the user owns.
func (s *PostgresStore) SearchItems(ctx context.Context, userID, query string) ([]File, []Folder, error) {
	fileQuery := s.sql.Select(fileColumns).From("files").Where(sq.Eq{"user_id": userID})
	folderQuery := s.sql.Select(folderColumns).From("folders").Where(sq.Eq{"user_id": userID})

	if trimmed := strings.TrimSpace(query); trimmed != "" {
		pattern := "%" + escapeLike(trimmed) + "%"
		fileQuery = fileQuery.Where(sq.Or{sq.ILike{"name": pattern}, sq.ILike{"content": pattern}})
		folderQuery = folderQuery.Where(sq.ILike{"name": pattern})
	}

	files, err := s.queryFiles(ctx, fileQuery.OrderBy("created_at DESC", "id DESC"))
	if err != nil {
		return nil, nil, err
	}
	folders, err := s.queryFolders(ctx, folderQuery.OrderBy("created_at DESC", "id DESC"))
	if err != nil {
		return nil, nil, err
	}
	return files, folders, nil
}

const folderColumns = `id, user_id, name, parent_id, created_at`

func scanFolder(row rowScanner) (Folder, error) {
	var folder Folder
	var parentID sql.NullString
	if err := row.Scan(&folder.ID, &folder.UserID, &folder.Name, &parentID, &folder.CreatedAt); err != nil {
		return Folder{}, err
	}
	folder.ParentID = nullableString(parentID)
	return folder, nil
}

func (s *PostgresStore) InsertFolder(ctx context.Context, folder Folder) (Folder, error) {
	if folder.ID == "" {
		folder.ID = util.NewID()
	}
	saved, err := scanFolder(s.db.QueryRowContext(ctx, `
		INSERT INTO folders (id, user_id, name, parent_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+folderColumns,
		folder.ID, folder.UserID, folder.Name, folder.ParentID,
	))
	if err != nil {
		return Folder{}, fmt.Errorf("insert folder: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) GetFolder(ctx context.Context, userID, folderID string) (Folder, error) {
	return scanFolder(s.db.QueryRowContext(ctx, `SELECT `+folderColumns+` FROM folders WHERE id = $1 AND user_id = $2`, folderID, userID))
}

// ListFolders returns all of the user's folders, or only the children of parentID when it is set.
func (s *PostgresStore) ListFolders(ctx context.Context, userID, parentID string) ([]Folder, error) {
	q := s.sql.Select(folderColumns).From("folders").Where(sq.Eq{"user_id": userID})
	if parentID != "" {
		q = q.Where(sq.Eq{"parent_id": parentID})
	}
	return s.queryFolders(ctx, q.OrderBy("name ASC", "id ASC"))
}

func (s *PostgresStore) queryFolders(ctx context.Context, q sq.SelectBuilder) ([]Folder, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build folders query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	items := make([]Folder, 0)
	for rows.Next() {
		folder, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		items = append(items, folder)
	}
	return items, rows.Err()
}

// DeleteFolder removes an empty folder. Child folders are re-rooted by the
// parent_id foreign key.
func (s *PostgresStore) DeleteFolder(ctx context.Context, userID, folderID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete folder tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM folders WHERE id = $1 AND user_id = $2 FOR UPDATE`, folderID, userID).Scan(&locked); err != nil {
		return err
	}

	var fileCount int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE folder_id = $1`, folderID).Scan(&fileCount); err != nil {
		return fmt.Errorf("count folder files: %w", err)
	}
	if fileCount > 0 {
		return ErrFolderNotEmpty
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id = $1 AND user_id = $2`, folderID, userID); err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete folder: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertNotification(ctx context.Context, db execer, userID, message string) error {
	if _, err := db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, message)
		VALUES ($1, $2, $3)
	`, util.NewID(), userID, message); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertNotification(ctx context.Context, userID, message string) error {
	return insertNotification(ctx, s.db, userID, message)
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, message, is_read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.UserID, &item.Message, &item.IsRead, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) MarkNotificationsRead(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE`, userID); err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertContact(ctx context.Context, contact Contact) (Contact, error) {
	if contact.ID == "" {
		contact.ID = util.NewID()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO contacts (id, name, email, message)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, contact.ID, contact.Name, contact.Email, contact.Message).Scan(&contact.CreatedAt)
	if err != nil {
		return Contact{}, fmt.Errorf("insert contact: %w", err)
	}
	return contact, nil
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
