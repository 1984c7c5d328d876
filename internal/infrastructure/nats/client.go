package nats

import (
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fastygo/knowledge/internal/config"
)

// NewConnection dials NATS with unlimited reconnects. The initial dial is
// retried in the background so the service boots while the broker is down;
// publishes fail (and are swallowed) until it comes back.
func NewConnection(cfg config.BrokerConfig, appName string, logger *zap.Logger) (*natsgo.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := natsgo.Connect(cfg.NATSURL,
		natsgo.Name(appName),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		natsgo.ReconnectHandler(func(c *natsgo.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
		natsgo.ErrorHandler(func(_ *natsgo.Conn, sub *natsgo.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("nats async error", zap.String("subject", subject), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}
