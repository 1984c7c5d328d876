package domain

import "time"

const (
	ArticleStatusDraft     = "DRAFT"
	ArticleStatusPublished = "PUBLISHED"

	CommentStatusPending  = "PENDING"
	CommentStatusApproved = "APPROVED"
)

// Article is the read model served by the content endpoints.
type Article struct {
	ID          int64      `json:"id"`
	AuthorID    int64      `json:"author_id"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary,omitempty"`
	Content     string     `json:"content"`
	Status      string     `json:"status"`
	ViewCount   int64      `json:"view_count"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (a *Article) IsPublished() bool {
	return a != nil && a.Status == ArticleStatusPublished
}

// CanEdit reports whether p may modify the article.
func (a *Article) CanEdit(p Principal) bool {
	return a != nil && (p.IsAdmin() || (p.IsAuthenticated() && p.UserID == a.AuthorID))
}

// Comment belongs to exactly one article.
type Comment struct {
	ID        int64     `json:"id"`
	ArticleID int64     `json:"article_id"`
	UserID    int64     `json:"user_id"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
