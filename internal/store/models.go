package store

import (
	"errors"
	"time"
)

var (
	ErrUsernameTaken       = errors.New("username already exists")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrFolderNotEmpty      = errors.New("folder contains files")
)

type User struct {
	ID           string
	Username     string
	Password     string
	Credits      int
	ReferralCode string
	ReferredBy   *string
	CreatedAt    time.Time
}

// NewUser carries everything the signup transaction writes.
type NewUser struct {
	User            User
	WelcomeMessage  string
	ReferrerBonus   int
	ReferrerMessage string
}

type ChatEntry struct {
	ID         string
	UserID     string
	Prompt     string
	Response   string
	IsFavorite bool
	CreatedAt  time.Time
}

type File struct {
	ID         string
	UserID     string
	Name       string
	Content    string
	FolderID   *string
	IsFavorite bool
	ShareID    *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FileUpdate is a partial update; nil fields are left untouched.
type FileUpdate struct {
	Name      *string
	Content   *string
	SetFolder bool
	FolderID  *string
}

func (u FileUpdate) Empty() bool {
	return u.Name == nil && u.Content == nil && !u.SetFolder
}

type FileFilter struct {
	RootOnly      bool
	FolderID      string
	FavoritesOnly bool
}

type Folder struct {
	ID        string
	UserID    string
	Name      string
	ParentID  *string
	CreatedAt time.Time
}

type Notification struct {
	ID        string
	UserID    string
	Message   string
	IsRead    bool
	CreatedAt time.Time
}

type Contact struct {
	ID        string
	Name      string
	Email     string
	Message   string
	CreatedAt time.Time
}

// EarnParams describes one credit-earning event for a user.
type EarnParams struct {
	UserID string
	Amount int
	// ReferrerMessage renders the notification sent to the referrer.
	ReferrerMessage func(earnerName string, amount int) string
}

type EarnOutcome struct {
	Balance         int
	ReferrerID      *string
	ReferrerBalance int
}
