package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventDomain names the bounded area an event belongs to. It selects the
// exchange, the queue family and the worker pool.
type EventDomain string

const (
	DomainArticle      EventDomain = "article"
	DomainComment      EventDomain = "comment"
	DomainNotification EventDomain = "notification"
	DomainStats        EventDomain = "stats"
)

// EventDomains lists every domain in declaration order.
func EventDomains() []EventDomain {
	return []EventDomain{DomainArticle, DomainComment, DomainNotification, DomainStats}
}

// Actions per domain.
const (
	ActionPublish = "publish"
	ActionUpdate  = "update"
	ActionApprove = "approve"
	ActionEmail   = "email"
	ActionVisit   = "visit"
	ActionSearch  = "search"
)

type OperationType string

const (
	OpPublish OperationType = "PUBLISH"
	OpUpdate  OperationType = "UPDATE"
	OpApprove OperationType = "APPROVE"
	OpDelete  OperationType = "DELETE"
	OpVisit   OperationType = "VISIT"
	OpSearch  OperationType = "SEARCH"
	OpEmail   OperationType = "EMAIL"
)

// OperationFor returns the operation type implied by an action name.
func OperationFor(action string) OperationType {
	switch action {
	case ActionPublish:
		return OpPublish
	case ActionUpdate:
		return OpUpdate
	case ActionApprove:
		return OpApprove
	case ActionVisit:
		return OpVisit
	case ActionSearch:
		return OpSearch
	case ActionEmail:
		return OpEmail
	default:
		return OperationType(action)
	}
}

const DefaultMaxRetryCount = 3

// Metadata keys carried by stats events.
const (
	MetaIPAddress = "ipAddress"
	MetaUserAgent = "userAgent"
)

// DomainEvent is the message published after a write. It is immutable after
// publish except for RetryCount, which only grows.
type DomainEvent struct {
	MessageID     string            `json:"messageId"`
	Domain        EventDomain       `json:"domain"`
	Action        string            `json:"action"`
	EntityID      int64             `json:"entityId"`
	ParentID      int64             `json:"parentId,omitempty"`
	OperationType OperationType     `json:"operationType"`
	ActorID       int64             `json:"actorId,omitempty"`
	Payload       string            `json:"payload,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	RetryCount    int               `json:"retryCount"`
	MaxRetryCount int               `json:"maxRetryCount"`
}

// RoutingKey is "<domain>.<action>".
func (e *DomainEvent) RoutingKey() string {
	return RoutingKey(e.Domain, e.Action)
}

// IncrementRetry bumps the retry counter, never past MaxRetryCount.
func (e *DomainEvent) IncrementRetry() int {
	if e.RetryCount < e.maxRetry() {
		e.RetryCount++
	}
	return e.RetryCount
}

func (e *DomainEvent) IsMaxRetryReached() bool {
	return e.RetryCount >= e.maxRetry()
}

func (e *DomainEvent) maxRetry() int {
	if e.MaxRetryCount <= 0 {
		return DefaultMaxRetryCount
	}
	return e.MaxRetryCount
}

// Encode renders the canonical wire form.
func (e *DomainEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// RoutingKey joins a domain and an action.
func RoutingKey(domain EventDomain, action string) string {
	return string(domain) + "." + action
}

// wireEvent accepts both the canonical field names and the per-domain
// aliases used by older producers (relatedId, statsType, userId, content,
// keyword, articleId, commentId, ipAddress, userAgent).
type wireEvent struct {
	MessageID     string            `json:"messageId"`
	Domain        EventDomain       `json:"domain"`
	Action        string            `json:"action"`
	EntityID      *int64            `json:"entityId"`
	RelatedID     *int64            `json:"relatedId"`
	ArticleID     *int64            `json:"articleId"`
	CommentID     *int64            `json:"commentId"`
	ParentID      *int64            `json:"parentId"`
	OperationType OperationType     `json:"operationType"`
	StatsType     OperationType     `json:"statsType"`
	ActorID       *int64            `json:"actorId"`
	UserID        *int64            `json:"userId"`
	Payload       string            `json:"payload"`
	Content       string            `json:"content"`
	Keyword       string            `json:"keyword"`
	IPAddress     string            `json:"ipAddress"`
	UserAgent     string            `json:"userAgent"`
	Metadata      map[string]string `json:"metadata"`
	CreatedAt     string            `json:"createdAt"`
	RetryCount    int               `json:"retryCount"`
	MaxRetryCount int               `json:"maxRetryCount"`
}

var createdAtLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"}

// DecodeEvent parses a message body, resolving field aliases.
func DecodeEvent(body []byte) (*DomainEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, WrapError(ErrCodeInvalid, ErrEventUndecodable.Message, err)
	}
	if w.MessageID == "" {
		return nil, WrapError(ErrCodeInvalid, ErrEventUndecodable.Message, fmt.Errorf("missing messageId"))
	}

	event := &DomainEvent{
		MessageID:     w.MessageID,
		Domain:        w.Domain,
		Action:        w.Action,
		EntityID:      firstID(w.EntityID, w.CommentID, w.RelatedID, w.ArticleID),
		ParentID:      firstID(w.ParentID),
		OperationType: w.OperationType,
		ActorID:       firstID(w.ActorID, w.UserID),
		Payload:       firstString(w.Payload, w.Content, w.Keyword),
		Metadata:      w.Metadata,
		RetryCount:    w.RetryCount,
		MaxRetryCount: w.MaxRetryCount,
	}
	if event.ParentID == 0 && w.CommentID != nil && w.ArticleID != nil {
		event.ParentID = *w.ArticleID
	}
	if event.OperationType == "" {
		event.OperationType = w.StatsType
	}
	if event.OperationType == "" && event.Action != "" {
		event.OperationType = OperationFor(event.Action)
	}
	if event.MaxRetryCount <= 0 {
		event.MaxRetryCount = DefaultMaxRetryCount
	}
	if w.IPAddress != "" || w.UserAgent != "" {
		if event.Metadata == nil {
			event.Metadata = make(map[string]string, 2)
		}
		if w.IPAddress != "" {
			event.Metadata[MetaIPAddress] = w.IPAddress
		}
		if w.UserAgent != "" {
			event.Metadata[MetaUserAgent] = w.UserAgent
		}
	}
	if w.CreatedAt != "" {
		createdAt, err := parseCreatedAt(w.CreatedAt)
		if err != nil {
			return nil, WrapError(ErrCodeInvalid, ErrEventUndecodable.Message, err)
		}
		event.CreatedAt = createdAt
	}
	return event, nil
}

func parseCreatedAt(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range createdAtLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func firstID(values ...*int64) int64 {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return 0
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
