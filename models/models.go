// bluetry/models/models.go
package models

import (
	"context"
	"time"
)

// --- Core Data Structures ---

type Poem struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	AuthorID     string    `json:"authorId"`
	AuthorName   string    `json:"authorName"`
	Published    bool      `json:"published"`
	Pinned       bool      `json:"pinned"`
	LikeCount    int       `json:"likeCount"`
	CommentCount int       `json:"commentCount"`
	ViewCount    int       `json:"viewCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Comment struct {
	ID          string     `json:"id"`
	PoemID      string     `json:"poemId"`
	Content     string     `json:"content"`
	AuthorID    *string    `json:"authorId"`
	AuthorName  string     `json:"authorName"`
	AuthorEmail *string    `json:"authorEmail,omitempty"`
	IPHash      string     `json:"-"`
	SessionID   string     `json:"-"`
	BotChecked  bool       `json:"botCheckPassed"`
	ParentID    *string    `json:"parentId"`
	ThreadPath  string     `json:"threadPath"`
	Depth       int        `json:"depth"`
	LikeCount   int        `json:"likeCount"`
	ReplyCount  int        `json:"replyCount"`
	ReportCount int        `json:"reportCount"`
	IsReported  bool       `json:"isReported"`
	IsDeleted   bool       `json:"isDeleted"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
	DeletedBy   *string    `json:"deletedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ThreadedComment is a comment with its direct replies nested beneath it.
type ThreadedComment struct {
	*Comment
	Replies []*ThreadedComment `json:"replies"`
}

type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportReviewed  ReportStatus = "reviewed"
	ReportDismissed ReportStatus = "dismissed"
)

// Valid reports whether s is a known report status.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportPending, ReportReviewed, ReportDismissed:
		return true
	}
	return false
}

type CommentReport struct {
	ID                string       `json:"id"`
	CommentID         string       `json:"commentId"`
	PoemID            string       `json:"poemId"`
	ReporterID        *string      `json:"reporterId"`
	ReporterSessionID string       `json:"-"`
	Reason            string       `json:"reason"`
	Description       string       `json:"description,omitempty"`
	Status            ReportStatus `json:"status"`
	CreatedAt         time.Time    `json:"createdAt"`
}

const ChallengeSimpleMath = "simple-math"

type BotCheck struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"sessionId"`
	ChallengeType string    `json:"challengeType"`
	Question      string    `json:"question"`
	Solution      string    `json:"-"`
	Attempts      int       `json:"attempts"`
	Failures      int       `json:"failures"`
	Passed        bool      `json:"passed"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type EmailSubscriber struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Subscribed bool      `json:"subscribed"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ActivityType string

const (
	ActivityPoemCreated      ActivityType = "poem_created"
	ActivityPoemPublished    ActivityType = "poem_published"
	ActivityPoemLiked        ActivityType = "poem_liked"
	ActivityCommentAdded     ActivityType = "comment_added"
	ActivityCommentLiked     ActivityType = "comment_liked"
	ActivityCommentReplied   ActivityType = "comment_replied"
	ActivityCommentReported  ActivityType = "comment_reported"
	ActivityCommentDeleted   ActivityType = "comment_deleted"
	ActivitySubscriberJoined ActivityType = "subscriber_joined"
)

// Valid reports whether t belongs to the closed set of activity types.
func (t ActivityType) Valid() bool {
	switch t {
	case ActivityPoemCreated, ActivityPoemPublished, ActivityPoemLiked,
		ActivityCommentAdded, ActivityCommentLiked, ActivityCommentReplied,
		ActivityCommentReported, ActivityCommentDeleted, ActivitySubscriberJoined:
		return true
	}
	return false
}

type Activity struct {
	ID        string            `json:"id"`
	Type      ActivityType      `json:"type"`
	UserID    string            `json:"userId"`
	PoemID    *string           `json:"poemId,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type User struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	IsAdmin     bool      `json:"isAdmin"`
	PinnedPoems []string  `json:"pinnedPoems"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// UIState is the per-browser presentation state kept at the edge, never in the store.
type UIState struct {
	SidebarOpen bool     `json:"sidebarOpen"`
	CurrentPage int      `json:"currentPage"`
	Theme       string   `json:"theme"`
	LikedPoems  []string `json:"likedPoems"`
}

// --- Page Data Structures ---

type PoemPage struct {
	Poems      []Poem `json:"poems"`
	Page       int    `json:"page"`
	PageSize   int    `json:"pageSize"`
	Total      int    `json:"total"`
	TotalPages int    `json:"totalPages"`
}

type DashboardStats struct {
	TotalPoems        int `json:"totalPoems"`
	PublishedPoems    int `json:"publishedPoems"`
	PinnedPoems       int `json:"pinnedPoems"`
	TotalLikes        int `json:"totalLikes"`
	CommentActivities int `json:"commentActivities"`
	ReportedComments  int `json:"reportedComments"`
	ActiveSubscribers int `json:"activeSubscribers"`
	TotalSubscribers  int `json:"totalSubscribers"`
}

// --- Service Interfaces ---

// StorageService persists uploaded media and backup files.
type StorageService interface {
	SaveFile(ctx context.Context, filename string, data []byte, contentType string) (string, error)
	DeleteFile(ctx context.Context, path string) error
}
