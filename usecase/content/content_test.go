package content

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/knowledge/domain"
	"github.com/fastygo/knowledge/repository"
	redisrepo "github.com/fastygo/knowledge/repository/redis"
	"github.com/fastygo/knowledge/usecase"
)

type memoryArticles struct {
	mu          sync.Mutex
	articles    map[int64]*domain.Article
	comments    map[int64]*domain.Comment
	nextComment int64
	reads       int
	searches    int
}

func newMemoryArticles(articles ...domain.Article) *memoryArticles {
	r := &memoryArticles{
		articles: make(map[int64]*domain.Article),
		comments: make(map[int64]*domain.Comment),
	}
	for i := range articles {
		a := articles[i]
		r.articles[a.ID] = &a
	}
	return r
}

func (r *memoryArticles) GetByID(_ context.Context, id int64) (*domain.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	a, ok := r.articles[id]
	if !ok {
		return nil, domain.ErrArticleNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memoryArticles) Update(_ context.Context, article *domain.Article) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *article
	r.articles[article.ID] = &cp
	return nil
}

func (r *memoryArticles) Publish(_ context.Context, id int64) (*domain.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.articles[id]
	if !ok {
		return nil, domain.ErrArticleNotFound
	}
	a.Status = domain.ArticleStatusPublished
	cp := *a
	return &cp, nil
}

func (r *memoryArticles) ListHot(_ context.Context, limit int) ([]domain.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	var out []domain.Article
	for _, a := range r.articles {
		if a.IsPublished() && len(out) < limit {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memoryArticles) Search(_ context.Context, _ string, limit int) ([]domain.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searches++
	var out []domain.Article
	for _, a := range r.articles {
		if a.IsPublished() && len(out) < limit {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memoryArticles) CreateComment(_ context.Context, comment *domain.Comment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextComment++
	comment.ID = r.nextComment
	cp := *comment
	r.comments[comment.ID] = &cp
	return nil
}

func (r *memoryArticles) ApproveComment(_ context.Context, id int64) (*domain.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.comments[id]
	if !ok {
		return nil, domain.ErrCommentNotFound
	}
	c.Status = domain.CommentStatusApproved
	cp := *c
	return &cp, nil
}

type recordedEvent struct {
	kind     string
	entityID int64
	parentID int64
	actorID  int64
	detail   string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) record(e recordedEvent) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return e.kind
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.kind)
	}
	return out
}

func (p *recordingPublisher) ArticlePublished(_ context.Context, articleID, actorID int64) string {
	return p.record(recordedEvent{kind: "article.publish", entityID: articleID, actorID: actorID})
}

func (p *recordingPublisher) ArticleUpdated(_ context.Context, articleID, actorID int64) string {
	return p.record(recordedEvent{kind: "article.update", entityID: articleID, actorID: actorID})
}

func (p *recordingPublisher) CommentPublished(_ context.Context, commentID, articleID, actorID int64, content string) string {
	return p.record(recordedEvent{kind: "comment.publish", entityID: commentID, parentID: articleID, actorID: actorID, detail: content})
}

func (p *recordingPublisher) CommentApproved(_ context.Context, commentID, articleID, actorID int64) string {
	return p.record(recordedEvent{kind: "comment.approve", entityID: commentID, parentID: articleID, actorID: actorID})
}

func (p *recordingPublisher) EmailNotification(_ context.Context, recipientID, subjectID int64, body string) string {
	return p.record(recordedEvent{kind: "notification.email", entityID: recipientID, parentID: subjectID, detail: body})
}

func (p *recordingPublisher) ArticleVisited(_ context.Context, articleID, actorID int64, ip, _ string) string {
	return p.record(recordedEvent{kind: "stats.visit", entityID: articleID, actorID: actorID, detail: ip})
}

func (p *recordingPublisher) SearchPerformed(_ context.Context, actorID int64, keyword, _ string) string {
	return p.record(recordedEvent{kind: "stats.search", actorID: actorID, detail: keyword})
}

var (
	author = domain.Principal{UserID: 10, Username: "author", Role: domain.RoleUser, Enabled: true}
	reader = domain.Principal{UserID: 20, Username: "reader", Role: domain.RoleUser, Enabled: true}
	admin  = domain.Principal{UserID: 1, Username: "admin", Role: domain.RoleAdmin, Enabled: true}
)

type fixture struct {
	uc       *UseCase
	articles *memoryArticles
	events   *recordingPublisher
	mr       *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redislib.NewClient(&redislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	articles := newMemoryArticles(
		domain.Article{ID: 1, AuthorID: author.UserID, Title: "Worker pools", Status: domain.ArticleStatusPublished},
		domain.Article{ID: 2, AuthorID: author.UserID, Title: "Draft", Status: domain.ArticleStatusDraft},
	)
	events := &recordingPublisher{}
	return &fixture{
		uc:       New(articles, redisrepo.NewCacheStore(client, nil), events, nil),
		articles: articles,
		events:   events,
		mr:       mr,
	}
}

func TestGetReadsThroughCacheAndEmitsVisit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := usecase.ClientInfo{IP: "10.0.0.1", UserAgent: "test"}

	article, err := f.uc.Get(ctx, domain.Anonymous(), 1, client)
	require.NoError(t, err)
	assert.Equal(t, "Worker pools", article.Title)
	assert.True(t, f.mr.Exists(repository.ArticleKey(1)))

	_, err = f.uc.Get(ctx, reader, 1, client)
	require.NoError(t, err)
	assert.Equal(t, 1, f.articles.reads)
	assert.Equal(t, []string{"stats.visit", "stats.visit"}, f.events.kinds())
	assert.Equal(t, "10.0.0.1", f.events.events[0].detail)
	assert.Equal(t, reader.UserID, f.events.events[1].actorID)
}

func TestDraftVisibleOnlyToEditors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.uc.Get(ctx, reader, 2, usecase.ClientInfo{})
	assert.ErrorIs(t, err, domain.ErrArticleNotFound)

	_, err = f.uc.Get(ctx, author, 2, usecase.ClientInfo{})
	assert.NoError(t, err)

	_, err = f.uc.Get(ctx, admin, 2, usecase.ClientInfo{})
	assert.NoError(t, err)
}

func TestUpdateRequiresOwnershipAndEmitsEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.uc.Update(ctx, reader, 1, ArticleChanges{Title: "hijack"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Empty(t, f.events.kinds())

	updated, err := f.uc.Update(ctx, author, 1, ArticleChanges{Title: " Pools revisited "})
	require.NoError(t, err)
	assert.Equal(t, "Pools revisited", updated.Title)
	assert.Equal(t, []string{"article.update"}, f.events.kinds())
	assert.Equal(t, author.UserID, f.events.events[0].actorID)
}

func TestPublishEmitsEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.uc.Publish(ctx, reader, 2)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	published, err := f.uc.Publish(ctx, admin, 2)
	require.NoError(t, err)
	assert.True(t, published.IsPublished())
	assert.Equal(t, []string{"article.publish"}, f.events.kinds())
	assert.Equal(t, int64(2), f.events.events[0].entityID)
}

func TestCommentNotifiesAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	comment, err := f.uc.Comment(ctx, reader, 1, " nice write-up ")
	require.NoError(t, err)
	assert.Equal(t, domain.CommentStatusPending, comment.Status)
	assert.Equal(t, "nice write-up", comment.Content)

	require.Equal(t, []string{"comment.publish", "notification.email"}, f.events.kinds())
	assert.Equal(t, int64(1), f.events.events[0].parentID)
	assert.Equal(t, author.UserID, f.events.events[1].entityID)
	assert.Equal(t, int64(1), f.events.events[1].parentID)
}

func TestAuthorCommentSkipsNotification(t *testing.T) {
	f := newFixture(t)

	_, err := f.uc.Comment(context.Background(), author, 1, "thanks all")
	require.NoError(t, err)
	assert.Equal(t, []string{"comment.publish"}, f.events.kinds())
}

func TestCommentRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.uc.Comment(ctx, domain.Anonymous(), 1, "hi")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.uc.Comment(ctx, reader, 1, "   ")
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalid))

	_, err = f.uc.Comment(ctx, reader, 2, "draft comment")
	assert.ErrorIs(t, err, domain.ErrArticleNotFound)

	_, err = f.uc.Comment(ctx, reader, 99, "missing")
	assert.ErrorIs(t, err, domain.ErrArticleNotFound)
	assert.Empty(t, f.events.kinds())
}

func TestApproveEmitsEventWithArticle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	comment, err := f.uc.Comment(ctx, author, 1, "first")
	require.NoError(t, err)

	_, err = f.uc.Approve(ctx, reader, comment.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	approved, err := f.uc.Approve(ctx, admin, comment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommentStatusApproved, approved.Status)
	assert.Equal(t, []string{"comment.publish", "comment.approve"}, f.events.kinds())
	assert.Equal(t, int64(1), f.events.events[1].parentID)

	_, err = f.uc.Approve(ctx, admin, 404)
	assert.ErrorIs(t, err, domain.ErrCommentNotFound)
}

func TestSearchCachesNormalizedQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	results, err := f.uc.Search(ctx, reader, "Pools", usecase.ClientInfo{IP: "10.0.0.2"})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	_, err = f.uc.Search(ctx, reader, "  pools ", usecase.ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.articles.searches)
	assert.True(t, f.mr.Exists(repository.SearchKey("pools")))
	assert.Equal(t, []string{"stats.search", "stats.search"}, f.events.kinds())

	_, err = f.uc.Search(ctx, reader, " ", usecase.ClientInfo{})
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalid))
}

func TestHotIsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.uc.Hot(ctx)
	require.NoError(t, err)
	second, err := f.uc.Hot(ctx)
	require.NoError(t, err)
	require.Len(t, second, len(first))
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 1, f.articles.reads)
	assert.True(t, f.mr.Exists(repository.HotArticlesKey))
}

func TestCacheOutageDegradesToRepository(t *testing.T) {
	f := newFixture(t)
	f.mr.Close()

	article, err := f.uc.Get(context.Background(), reader, 1, usecase.ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), article.ID)
}
