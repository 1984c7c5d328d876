package usecase

import "context"

// EventPublisher announces committed writes. Every method is fire-and-forget
// and returns the message id; publish failures never reach the caller.
type EventPublisher interface {
	ArticlePublished(ctx context.Context, articleID, actorID int64) string
	ArticleUpdated(ctx context.Context, articleID, actorID int64) string
	CommentPublished(ctx context.Context, commentID, articleID, actorID int64, content string) string
	CommentApproved(ctx context.Context, commentID, articleID, actorID int64) string
	EmailNotification(ctx context.Context, recipientID, subjectID int64, body string) string
	ArticleVisited(ctx context.Context, articleID, actorID int64, ip, userAgent string) string
	SearchPerformed(ctx context.Context, actorID int64, keyword, ip string) string
}

// ClientInfo describes the caller of a request for stats events.
type ClientInfo struct {
	IP        string
	UserAgent string
}
