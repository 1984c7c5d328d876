package jsbroker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fastygo/knowledge/internal/messaging"
)

func TestNamingMaps(t *testing.T) {
	assert.Equal(t, "ARTICLE", StreamName("article.exchange"))
	assert.Equal(t, "DLX", StreamName(messaging.DeadLetterExchange))
	assert.Equal(t, "stats-visit-queue", DurableName("stats.visit.queue"))
	assert.Equal(t, "dlx.>", subject(messaging.DeadLetterBinding))
	assert.Equal(t, "comment.approve", subject("comment.approve"))
}
