package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/richardjypark/maskmytext.com/internal/infrastructure/logging"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/monitoring"
	"github.com/richardjypark/maskmytext.com/internal/protocol"
	"github.com/richardjypark/maskmytext.com/internal/shared/id"
)

// Client is one attached page as seen by the agent.
type Client interface {
	ID() id.ClientID
	// PostMessage delivers n without blocking, reporting whether it was
	// accepted.
	PostMessage(n protocol.Notification) bool
}

// Clients is the set of attached pages.
type Clients interface {
	// MatchAll returns the pages attached right now.
	MatchAll(ctx context.Context) []Client
	// Claim makes w the controller of every attached page.
	Claim(ctx context.Context, w *Worker) error
}

// Notifier broadcasts version changes to attached pages.
type Notifier struct {
	clients Clients
	log     *logging.Logger
	metrics *monitoring.Metrics
}

// NewNotifier creates a notifier over clients.
func NewNotifier(clients Clients, logger *logging.Logger, metrics *monitoring.Metrics) *Notifier {
	return &Notifier{
		clients: clients,
		log:     logging.OrNop(logger).Component("notifier"),
		metrics: metrics,
	}
}

// Broadcast posts CACHE_UPDATED to every attached page and returns how many
// accepted it. Pages that are gone or not reading miss it; nothing is
// retried or queued.
func (n *Notifier) Broadcast(ctx context.Context, version id.VersionID) int {
	msg := protocol.CacheUpdated(string(version))
	delivered := 0
	for _, c := range n.clients.MatchAll(ctx) {
		ok := c.PostMessage(msg)
		n.metrics.RecordNotification(ok)
		if ok {
			delivered++
		} else {
			n.log.Debug("notification dropped", zap.String("client", string(c.ID())))
		}
	}
	n.log.Info("clients notified", zap.String("version", string(version)), zap.Int("delivered", delivered))
	return delivered
}
