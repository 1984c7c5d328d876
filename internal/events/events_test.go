package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/knowledge/domain"
	"github.com/fastygo/knowledge/internal/messaging"
	"github.com/fastygo/knowledge/internal/messaging/memory"
	"github.com/fastygo/knowledge/internal/metrics"
	"github.com/fastygo/knowledge/internal/workerpool"
	"github.com/fastygo/knowledge/repository"
	redisrepo "github.com/fastygo/knowledge/repository/redis"
)

type countingNotifier struct {
	calls    atomic.Int32
	failNext atomic.Bool
}

func (n *countingNotifier) Notify(context.Context, int64, int64, string) error {
	n.calls.Add(1)
	if n.failNext.Swap(false) {
		return errors.New("smtp unavailable")
	}
	return nil
}

type harness struct {
	broker   *memory.Broker
	topology *messaging.Topology
	mr       *miniredis.Miniredis
	cache    repository.CacheStore
	metrics  *metrics.Metrics
	producer *Producer
	notifier *countingNotifier
}

func newHarness(t *testing.T, override func(r *Registry)) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	mr := miniredis.RunT(t)
	client := redislib.NewClient(&redislib.Options{Addr: mr.Addr()})

	h := &harness{
		broker:   memory.New(),
		topology: messaging.DefaultTopology(),
		mr:       mr,
		cache:    redisrepo.NewCacheStore(client, nil),
		metrics:  metrics.New(),
		notifier: &countingNotifier{},
	}
	require.NoError(t, h.broker.Declare(ctx, h.topology))

	registry := NewRegistry()
	RegisterDefaults(registry, h.cache, h.notifier)
	if override != nil {
		override(registry)
	}

	var profiles []workerpool.Profile
	for _, d := range domain.EventDomains() {
		profiles = append(profiles, workerpool.Profile{Name: string(d), Core: 2, Max: 4, QueueCapacity: 16})
	}
	pools, err := workerpool.NewFactory(h.metrics, nil).Build(profiles...)
	require.NoError(t, err)

	h.producer = NewProducer(h.broker, h.topology, h.metrics, nil, ProducerConfig{MaxRetry: 3})
	consumer := NewConsumer(h.broker, h.topology, registry, pools, h.metrics, nil)
	require.NoError(t, consumer.Start(ctx))

	t.Cleanup(func() {
		cancel()
		_ = pools.Shutdown(context.Background())
		_ = client.Close()
	})
	return h
}

func (h *harness) eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestPublishAssignsUniqueMessageIDs(t *testing.T) {
	b := memory.New()
	topo := messaging.DefaultTopology()
	require.NoError(t, b.Declare(context.Background(), topo))
	p := NewProducer(b, topo, nil, nil, ProducerConfig{})

	first := p.ArticlePublished(context.Background(), 1, 1)
	second := p.ArticlePublished(context.Background(), 1, 1)

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, b.Depth("article.publish.queue"))
}

func TestPublishSwallowsFailures(t *testing.T) {
	m := metrics.New()
	b := memory.New()
	topo := messaging.DefaultTopology()
	require.NoError(t, b.Declare(context.Background(), topo))
	p := NewProducer(b, topo, m, nil, ProducerConfig{})

	id := p.Publish(context.Background(), domain.DomainArticle, "archive", 1, 1, "")
	assert.NotEmpty(t, id)
	assert.Equal(t, float64(1), m.PublishedCount("article.archive", resultUnroutable))

	require.NoError(t, b.Close())
	id = p.CommentApproved(context.Background(), 3, 9, 1)
	assert.NotEmpty(t, id)
	assert.Equal(t, float64(1), m.PublishedCount("comment.approve", resultFailed))
}

type failingBroker struct {
	calls atomic.Int32
}

func (b *failingBroker) Declare(context.Context, *messaging.Topology) error { return nil }
func (b *failingBroker) Publish(context.Context, messaging.Message) error {
	b.calls.Add(1)
	return errors.New("connection refused")
}
func (b *failingBroker) Subscribe(context.Context, messaging.QueueSpec, messaging.Handler) error {
	return nil
}
func (b *failingBroker) Ping(context.Context) error { return nil }
func (b *failingBroker) Close() error               { return nil }

func TestPublishBreakerStopsCallingBroker(t *testing.T) {
	m := metrics.New()
	b := &failingBroker{}
	p := NewProducer(b, messaging.DefaultTopology(), m, nil, ProducerConfig{BreakerFailures: 2, BreakerOpenDelay: time.Minute})

	for i := 0; i < 5; i++ {
		p.ArticleUpdated(context.Background(), int64(i), 1)
	}

	assert.Equal(t, int32(2), b.calls.Load())
	assert.Equal(t, float64(2), m.PublishedCount("article.update", resultFailed))
	assert.Equal(t, float64(3), m.PublishedCount("article.update", resultBreakerOpen))
	assert.Equal(t, "open", p.BreakerState())
}

func TestArticleEventEvictsArticleAndListings(t *testing.T) {
	h := newHarness(t, nil)
	h.mr.Set("article:42", "{}")
	h.mr.Set(repository.HotArticlesKey, "[]")
	h.mr.Set(repository.LatestArticlesKey, "[]")
	h.mr.Set("article:43", "{}")

	h.producer.ArticleUpdated(context.Background(), 42, 1)

	h.eventually(t, func() bool { return h.metrics.ConsumedCount("article.update", outcomeAck) == 1 })
	assert.False(t, h.mr.Exists("article:42"))
	assert.False(t, h.mr.Exists(repository.HotArticlesKey))
	assert.False(t, h.mr.Exists(repository.LatestArticlesKey))
	assert.True(t, h.mr.Exists("article:43"))
}

func TestDuplicateArticleEventIsHarmless(t *testing.T) {
	h := newHarness(t, nil)
	h.mr.Set("article:42", "{}")
	h.mr.Set(repository.HotArticlesKey, "[]")
	body, err := (&domain.DomainEvent{
		MessageID: "m-article", Domain: domain.DomainArticle, Action: domain.ActionPublish, EntityID: 42, MaxRetryCount: 3,
	}).Encode()
	require.NoError(t, err)
	msg := messaging.Message{ID: "m-article", Exchange: "article.exchange", RoutingKey: "article.publish", Body: body}

	require.NoError(t, h.broker.Publish(context.Background(), msg))
	require.NoError(t, h.broker.Publish(context.Background(), msg))

	h.eventually(t, func() bool { return h.metrics.ConsumedCount("article.publish", outcomeAck) == 2 })
	assert.False(t, h.mr.Exists("article:42"))
	assert.False(t, h.mr.Exists(repository.HotArticlesKey))
	assert.Zero(t, h.metrics.ConsumedCount("article.publish", outcomeRetry))
	assert.Zero(t, h.metrics.ConsumedCount("article.publish", outcomeDropped))
}

func TestDuplicateCommentEventIsHarmless(t *testing.T) {
	h := newHarness(t, nil)
	h.mr.Set("article:9", "{}")
	h.mr.Set("comments:article:9", "[]")
	body, err := (&domain.DomainEvent{
		MessageID: "m-comment", Domain: domain.DomainComment, Action: domain.ActionPublish,
		EntityID: 100, ParentID: 9, Payload: "nice", MaxRetryCount: 3,
	}).Encode()
	require.NoError(t, err)
	msg := messaging.Message{ID: "m-comment", Exchange: "comment.exchange", RoutingKey: "comment.publish", Body: body}

	require.NoError(t, h.broker.Publish(context.Background(), msg))
	require.NoError(t, h.broker.Publish(context.Background(), msg))

	h.eventually(t, func() bool { return h.metrics.ConsumedCount("comment.publish", outcomeAck) == 2 })
	assert.False(t, h.mr.Exists("article:9"))
	assert.False(t, h.mr.Exists("comments:article:9"))
	assert.Zero(t, h.metrics.ConsumedCount("comment.publish", outcomeRetry))
	assert.Zero(t, h.metrics.ConsumedCount("comment.publish", outcomeDropped))
}

func TestCommentEventEvictsParentArticle(t *testing.T) {
	h := newHarness(t, nil)
	h.mr.Set("article:9", "{}")
	h.mr.Set("comments:article:9", "[]")

	h.producer.CommentPublished(context.Background(), 100, 9, 1, "nice")

	h.eventually(t, func() bool { return h.metrics.ConsumedCount("comment.publish", outcomeAck) == 1 })
	assert.False(t, h.mr.Exists("article:9"))
	assert.False(t, h.mr.Exists("comments:article:9"))
}

func TestStatsEventEvictsDashboard(t *testing.T) {
	h := newHarness(t, nil)
	h.mr.Set(repository.StatsDashboardKey, "{}")

	h.producer.ArticleVisited(context.Background(), 5, 0, "10.0.0.1", "curl/8")

	h.eventually(t, func() bool { return h.metrics.ConsumedCount("stats.visit", outcomeAck) == 1 })
	assert.False(t, h.mr.Exists(repository.StatsDashboardKey))
}

func TestFailingHandlerIsDroppedAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, func(r *Registry) {
		r.Register(domain.DomainArticle, domain.ActionPublish, func(context.Context, *domain.DomainEvent) error {
			calls.Add(1)
			return errors.New("cache unavailable")
		})
	})

	h.producer.ArticlePublished(context.Background(), 7, 1)

	h.eventually(t, func() bool { return h.metrics.ConsumedCount("article.publish", outcomeDropped) == 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, float64(2), h.metrics.ConsumedCount("article.publish", outcomeRetry))
	assert.Equal(t, 0, h.broker.Depth("article.publish.queue"))
}

func TestNotificationIsDeliveredOncePerMessageID(t *testing.T) {
	h := newHarness(t, nil)
	event := &domain.DomainEvent{
		MessageID:     "m-1",
		Domain:        domain.DomainNotification,
		Action:        domain.ActionEmail,
		EntityID:      5,
		ParentID:      9,
		Payload:       "new comment",
		MaxRetryCount: 3,
	}
	body, err := event.Encode()
	require.NoError(t, err)
	msg := messaging.Message{ID: event.MessageID, Exchange: "notification.exchange", RoutingKey: "notification.email", Body: body}

	require.NoError(t, h.broker.Publish(context.Background(), msg))
	require.NoError(t, h.broker.Publish(context.Background(), msg))

	h.eventually(t, func() bool { return h.metrics.ConsumedCount("notification.email", outcomeAck) == 2 })
	assert.Equal(t, int32(1), h.notifier.calls.Load())
	assert.True(t, h.mr.Exists(repository.NotifiedKey("m-1")))
}

func TestNotificationFailureReleasesClaim(t *testing.T) {
	h := newHarness(t, nil)
	h.notifier.failNext.Store(true)

	h.producer.EmailNotification(context.Background(), 5, 9, "new comment")

	h.eventually(t, func() bool { return h.metrics.ConsumedCount("notification.email", outcomeAck) == 1 })
	assert.Equal(t, int32(2), h.notifier.calls.Load())
	assert.Equal(t, float64(1), h.metrics.ConsumedCount("notification.email", outcomeRetry))
}

func TestUndecodableMessageIsTerminated(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.broker.Publish(context.Background(), messaging.Message{
		Exchange: "stats.exchange", RoutingKey: "stats.search", Body: []byte("{"),
	}))

	h.eventually(t, func() bool { return h.metrics.ConsumedCount("stats.search", outcomePoison) == 1 })
	assert.Equal(t, 0, h.broker.Depth("stats.search.queue"))
}

type fakeDelivery struct {
	body    []byte
	attempt int
	settled string
}

func (d *fakeDelivery) Body() []byte       { return d.body }
func (d *fakeDelivery) RoutingKey() string { return "article.publish" }
func (d *fakeDelivery) Attempt() int       { return d.attempt }
func (d *fakeDelivery) Ack() error         { d.settled = "ack"; return nil }
func (d *fakeDelivery) Nak() error         { d.settled = "nak"; return nil }
func (d *fakeDelivery) Term() error        { d.settled = "term"; return nil }

func TestRetryCountFollowsBrokerDeliveryCount(t *testing.T) {
	topo := messaging.DefaultTopology()
	spec, ok := topo.Queue(domain.DomainArticle, domain.ActionPublish)
	require.True(t, ok)

	c := NewConsumer(nil, topo, NewRegistry(), nil, nil, nil)
	body, err := (&domain.DomainEvent{MessageID: "m-2", Domain: domain.DomainArticle, Action: domain.ActionPublish, MaxRetryCount: 3}).Encode()
	require.NoError(t, err)
	failing := func(context.Context, *domain.DomainEvent) error { return errors.New("boom") }

	second := &fakeDelivery{body: body, attempt: 2}
	c.process(context.Background(), spec, failing, second)
	assert.Equal(t, "nak", second.settled)

	third := &fakeDelivery{body: body, attempt: 3}
	c.process(context.Background(), spec, failing, third)
	assert.Equal(t, "term", third.settled)

	var calls int
	counting := func(context.Context, *domain.DomainEvent) error { calls++; return nil }

	late := &fakeDelivery{body: body, attempt: 9}
	c.process(context.Background(), spec, counting, late)
	assert.Equal(t, "term", late.settled)
	assert.Zero(t, calls)

	succeeded := &fakeDelivery{body: body, attempt: 3}
	c.process(context.Background(), spec, counting, succeeded)
	assert.Equal(t, "ack", succeeded.settled)
	assert.Equal(t, 1, calls)
}

func TestExhaustedEventIsDroppedWithoutRunningHandler(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, func(r *Registry) {
		r.Register(domain.DomainArticle, domain.ActionPublish, func(context.Context, *domain.DomainEvent) error {
			calls.Add(1)
			return errors.New("cache unavailable")
		})
	})
	body, err := (&domain.DomainEvent{
		MessageID:     "m-exhausted",
		Domain:        domain.DomainArticle,
		Action:        domain.ActionPublish,
		EntityID:      7,
		RetryCount:    3,
		MaxRetryCount: 3,
	}).Encode()
	require.NoError(t, err)

	require.NoError(t, h.broker.Publish(context.Background(), messaging.Message{
		ID: "m-exhausted", Exchange: "article.exchange", RoutingKey: "article.publish", Body: body,
	}))

	h.eventually(t, func() bool { return h.metrics.ConsumedCount("article.publish", outcomeDropped) == 1 })
	assert.Zero(t, calls.Load())
	assert.Zero(t, h.metrics.ConsumedCount("article.publish", outcomeRetry))
	assert.Equal(t, 0, h.broker.Depth("article.publish.queue"))
}

func TestStartRequiresHandlerForEveryQueue(t *testing.T) {
	b := memory.New()
	topo := messaging.DefaultTopology()
	require.NoError(t, b.Declare(context.Background(), topo))
	pools, err := workerpool.NewFactory(nil, nil).Build(workerpool.Profile{Name: string(domain.DomainArticle)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pools.Shutdown(context.Background()) })

	c := NewConsumer(b, topo, NewRegistry(), pools, nil, nil)
	err = c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "article.publish")
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	var seen string
	r.Register(domain.DomainStats, domain.ActionSearch, func(_ context.Context, e *domain.DomainEvent) error {
		seen = e.Payload
		return nil
	})

	require.NoError(t, r.Dispatch(context.Background(), &domain.DomainEvent{Domain: domain.DomainStats, Action: domain.ActionSearch, Payload: "golang"}))
	assert.Equal(t, "golang", seen)
	assert.Error(t, r.Dispatch(context.Background(), &domain.DomainEvent{Domain: domain.DomainStats, Action: "export"}))
	assert.Equal(t, []string{"stats.search"}, r.Keys())
}
