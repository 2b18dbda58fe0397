package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"halalchat/api/internal/export"
	"halalchat/api/internal/revisions"
	"halalchat/api/internal/search"
	"halalchat/api/internal/store"
	"halalchat/api/internal/util"
)

const revisionHistoryLimit = 50

type CreateFileInput struct {
	Name     string  `json:"name"`
	Content  string  `json:"content"`
	FolderID *string `json:"folderId"`
}

// UpdateFileInput is partial. SetFolder distinguishes an explicit null
// folderId (move to root) from an absent one.
type UpdateFileInput struct {
	Name      *string
	Content   *string
	SetFolder bool
	FolderID  *string
}

func (s *Service) CreateFile(ctx context.Context, user store.User, input CreateFileInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationError("File name is required")
	}
	folderID, err := s.ownedFolderRef(ctx, user.ID, input.FolderID)
	if err != nil {
		return nil, err
	}

	file, err := s.store.InsertFile(ctx, store.File{
		UserID:   user.ID,
		Name:     name,
		Content:  input.Content,
		FolderID: folderID,
	})
	if err != nil {
		return nil, err
	}
	s.indexFile(file)
	s.commitRevision(file, user.Username, "Create file")
	return filePayload(file), nil
}

func (s *Service) GetFile(ctx context.Context, userID, fileID string) (map[string]any, error) {
	file, err := s.ownedFile(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	return filePayload(file), nil
}

func (s *Service) UpdateFile(ctx context.Context, user store.User, fileID string, input UpdateFileInput) (map[string]any, error) {
	if !validID(fileID) {
		return nil, notFound("File not found")
	}
	if input.Name != nil {
		trimmed := strings.TrimSpace(*input.Name)
		if trimmed == "" {
			return nil, validationError("File name cannot be empty")
		}
		input.Name = &trimmed
	}
	update := store.FileUpdate{Name: input.Name, Content: input.Content}
	if input.SetFolder {
		folderID, err := s.ownedFolderRef(ctx, user.ID, input.FolderID)
		if err != nil {
			return nil, err
		}
		update.SetFolder = true
		update.FolderID = folderID
	}

	file, err := s.store.UpdateFile(ctx, user.ID, fileID, update)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("File not found")
		}
		return nil, err
	}
	s.indexFile(file)
	if input.Name != nil || input.Content != nil {
		s.commitRevision(file, user.Username, "Update file")
	}
	return filePayload(file), nil
}

// MoveFile reattaches a file under folderID, or at the root when it is nil or empty.
func (s *Service) MoveFile(ctx context.Context, user store.User, fileID string, folderID *string) (map[string]any, error) {
	return s.UpdateFile(ctx, user, fileID, UpdateFileInput{SetFolder: true, FolderID: folderID})
}

func (s *Service) DeleteFile(ctx context.Context, userID, fileID string) error {
	if !validID(fileID) {
		return notFound("File not found")
	}
	if err := s.store.DeleteFile(ctx, userID, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("File not found")
		}
		return err
	}
	if s.search != nil {
		s.search.Delete(fileID)
	}
	if s.revisions != nil {
		if err := s.revisions.Delete(fileID); err != nil {
			s.bookkeepingFailed("revision_delete", userID, err)
		}
	}
	return nil
}

func (s *Service) SetFileFavorite(ctx context.Context, userID, fileID string, favorite bool) (map[string]any, error) {
	if !validID(fileID) {
		return nil, notFound("File not found")
	}
	file, err := s.store.SetFileFavorite(ctx, userID, fileID, favorite)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("File not found")
		}
		return nil, err
	}
	return filePayload(file), nil
}

func (s *Service) ListFiles(ctx context.Context, userID string, filter store.FileFilter) ([]map[string]any, error) {
	files, err := s.store.ListFiles(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	return filesPayload(files), nil
}

// ShareFile returns the file's share token, minting one on first use.
func (s *Service) ShareFile(ctx context.Context, userID, fileID string) (map[string]any, error) {
	if !validID(fileID) {
		return nil, notFound("File not found")
	}
	shareID, err := s.store.ShareFile(ctx, userID, fileID, util.ShareToken())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("File not found")
		}
		return nil, err
	}
	return map[string]any{"shareId": shareID}, nil
}

// SharedFile is the unauthenticated lookup by share token. Owner details are omitted.
func (s *Service) SharedFile(ctx context.Context, shareID string) (map[string]any, error) {
	shareID = strings.TrimSpace(shareID)
	if shareID == "" {
		return nil, notFound("File not found")
	}
	file, err := s.store.GetFileByShareID(ctx, shareID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("File not found")
		}
		return nil, err
	}
	return map[string]any{
		"id":        file.ID,
		"name":      file.Name,
		"content":   file.Content,
		"shareId":   file.ShareID,
		"createdAt": file.CreatedAt,
		"updatedAt": file.UpdatedAt,
	}, nil
}

// SearchFiles is the substring search behind the file browser. Each result
// carries an explicit kind.
func (s *Service) SearchFiles(ctx context.Context, userID, query string) ([]map[string]any, error) {
	files, folders, err := s.store.SearchItems(ctx, userID, query)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(files)+len(folders))
	for _, folder := range folders {
		item := folderPayload(folder)
		item["kind"] = string(search.KindFolder)
		payload = append(payload, item)
	}
	for _, file := range files {
		item := filePayload(file)
		item["kind"] = string(search.KindFile)
		payload = append(payload, item)
	}
	return payload, nil
}

// Search is the ranked full-text search.
func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil || strings.TrimSpace(q.Text) == "" {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

type CreateFolderInput struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parentId"`
}

func (s *Service) CreateFolder(ctx context.Context, userID string, input CreateFolderInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationError("Folder name is required")
	}
	parentID, err := s.ownedFolderRef(ctx, userID, input.ParentID)
	if err != nil {
		return nil, err
	}
	folder, err := s.store.InsertFolder(ctx, store.Folder{UserID: userID, Name: name, ParentID: parentID})
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.Index(search.Record{ID: folder.ID, Kind: search.KindFolder, UserID: userID, Name: folder.Name, FolderID: derefString(folder.ParentID)})
	}
	return folderPayload(folder), nil
}

func (s *Service) ListFolders(ctx context.Context, userID string) ([]map[string]any, error) {
	folders, err := s.store.ListFolders(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	return foldersPayload(folders), nil
}

func (s *Service) FolderContents(ctx context.Context, userID, folderID string) (map[string]any, error) {
	if !validID(folderID) {
		return nil, notFound("Folder not found")
	}
	folder, err := s.store.GetFolder(ctx, userID, folderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Folder not found")
		}
		return nil, err
	}
	files, err := s.store.ListFiles(ctx, userID, store.FileFilter{FolderID: folder.ID})
	if err != nil {
		return nil, err
	}
	children, err := s.store.ListFolders(ctx, userID, folder.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":       folder.ID,
		"name":     folder.Name,
		"parentId": folder.ParentID,
		"files":    filesPayload(files),
		"folders":  foldersPayload(children),
	}, nil
}

func (s *Service) DeleteFolder(ctx context.Context, userID, folderID string) error {
	if !validID(folderID) {
		return notFound("Folder not found")
	}
	err := s.store.DeleteFolder(ctx, userID, folderID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrFolderNotEmpty):
		return errFolderFull
	case errors.Is(err, sql.ErrNoRows):
		return notFound("Folder not found")
	default:
		return err
	}
	if s.search != nil {
		s.search.Delete(folderID)
	}
	return nil
}

func (s *Service) FileRevisions(ctx context.Context, userID, fileID string) ([]revisions.Revision, error) {
	if _, err := s.ownedFile(ctx, userID, fileID); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return []revisions.Revision{}, nil
	}
	return s.revisions.History(fileID, revisionHistoryLimit)
}

func (s *Service) FileRevision(ctx context.Context, userID, fileID, hash string) (map[string]any, error) {
	if _, err := s.ownedFile(ctx, userID, fileID); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return nil, notFound("Revision not found")
	}
	content, revision, err := s.revisions.Get(fileID, hash)
	if err != nil {
		if errors.Is(err, revisions.ErrNotFound) {
			return nil, notFound("Revision not found")
		}
		return nil, err
	}
	return map[string]any{
		"name":     content.Name,
		"content":  content.Content,
		"revision": revision,
	}, nil
}

func (s *Service) ExportFile(ctx context.Context, user store.User, fileID, format string) (*export.Result, error) {
	doc, parsed, err := s.exportDocument(ctx, user, fileID, format)
	if err != nil {
		return nil, err
	}
	result, err := s.exporter.Render(ctx, doc, parsed)
	if err != nil {
		return nil, exportError(err)
	}
	return result, nil
}

func (s *Service) ArchiveExport(ctx context.Context, user store.User, fileID, format string) (map[string]any, error) {
	if !s.exporter.ArchiveEnabled() {
		return nil, exportError(export.ErrArchiveUnavailable)
	}
	doc, parsed, err := s.exportDocument(ctx, user, fileID, format)
	if err != nil {
		return nil, err
	}
	archived, err := s.exporter.RenderAndArchive(ctx, user.ID, doc, parsed)
	if err != nil {
		return nil, exportError(err)
	}
	return map[string]any{
		"key":       archived.Key,
		"url":       archived.URL,
		"expiresAt": archived.ExpiresAt,
	}, nil
}

func (s *Service) exportDocument(ctx context.Context, user store.User, fileID, format string) (export.Document, export.Format, error) {
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return export.Document{}, "", validationError("Unsupported export format")
	}
	file, err := s.ownedFile(ctx, user.ID, fileID)
	if err != nil {
		return export.Document{}, "", err
	}
	return export.Document{
		ID:        file.ID,
		Name:      file.Name,
		Content:   file.Content,
		Author:    user.Username,
		UpdatedAt: file.UpdatedAt,
	}, parsed, nil
}

func exportError(err error) error {
	switch {
	case errors.Is(err, export.ErrUnsupportedFormat):
		return validationError("Unsupported export format")
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "This export format is not available on the server", nil)
	case errors.Is(err, export.ErrArchiveUnavailable):
		return domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export archiving is not configured", nil)
	}
	return err
}

func (s *Service) ownedFile(ctx context.Context, userID, fileID string) (store.File, error) {
	if !validID(fileID) {
		return store.File{}, notFound("File not found")
	}
	file, err := s.store.GetFile(ctx, userID, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.File{}, notFound("File not found")
		}
		return store.File{}, err
	}
	return file, nil
}

// ownedFolderRef resolves an optional folder reference. Nil or empty means
// the root; anything else must be a folder the user owns.
func (s *Service) ownedFolderRef(ctx context.Context, userID string, folderID *string) (*string, error) {
	if folderID == nil || strings.TrimSpace(*folderID) == "" {
		return nil, nil
	}
	id := strings.TrimSpace(*folderID)
	if !validID(id) {
		return nil, notFound("Folder not found")
	}
	folder, err := s.store.GetFolder(ctx, userID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Folder not found")
		}
		return nil, err
	}
	return &folder.ID, nil
}

func (s *Service) indexFile(file store.File) {
	if s.search == nil {
		return
	}
	s.search.Index(search.Record{
		ID:       file.ID,
		Kind:     search.KindFile,
		UserID:   file.UserID,
		Name:     file.Name,
		Content:  file.Content,
		FolderID: derefString(file.FolderID),
	})
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func (s *Service) commitRevision(file store.File, author, message string) {
	if s.revisions == nil {
		return
	}
	revision, err := s.revisions.Commit(file.ID, revisions.Content{Name: file.Name, Content: file.Content}, author, message)
	if err != nil {
		s.bookkeepingFailed("revision", file.UserID, err)
		return
	}
	log.Debug().Str("file_id", file.ID).Str("revision", revision.Hash).Msg("file revision recorded")
}

func filePayload(file store.File) map[string]any {
	return map[string]any{
		"id":         file.ID,
		"userId":     file.UserID,
		"name":       file.Name,
		"content":    file.Content,
		"folderId":   file.FolderID,
		"isFavorite": file.IsFavorite,
		"shareId":    file.ShareID,
		"createdAt":  file.CreatedAt,
		"updatedAt":  file.UpdatedAt,
	}
}

func filesPayload(files []store.File) []map[string]any {
	payload := make([]map[string]any, 0, len(files))
	for _, file := range files {
		payload = append(payload, filePayload(file))
	}
	return payload
}

func folderPayload(folder store.Folder) map[string]any {
	return map[string]any{
		"id":        folder.ID,
		"userId":    folder.UserID,
		"name":      folder.Name,
		"parentId":  folder.ParentID,
		"createdAt": folder.CreatedAt,
	}
}

func foldersPayload(folders []store.Folder) []map[string]any {
	payload := make([]map[string]any, 0, len(folders))
	for _, folder := range folders {
		payload = append(payload, folderPayload(folder))
	}
	return payload
}
