package postgres

import "github.com/fastygo/knowledge/domain"

// Numeric status columns of the content schema.
const (
	articlePublished = 1

	commentPending  = 0
	commentApproved = 1
)

func articleStatus(v int) string {
	if v == articlePublished {
		return domain.ArticleStatusPublished
	}
	return domain.ArticleStatusDraft
}

func commentStatus(v int) string {
	if v == commentApproved {
		return domain.CommentStatusApproved
	}
	return domain.CommentStatusPending
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 100
	}
	return limit
}
