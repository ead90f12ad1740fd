package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ihabontop/jobwatch/internal/listing"
	"github.com/ihabontop/jobwatch/internal/metrics"
)

// Notifier sweeps the store for unnotified listings and fans them out
// through the transport. A failed delivery stays pending and is retried
// on the next sweep.
type Notifier struct {
	store     listing.Store
	transport listing.Transport
	window    time.Duration
	delay     time.Duration
	logger    *zap.Logger
}

// New builds a Notifier. The window bounds how far back the sweep looks;
// the delay paces successive deliveries.
func New(store listing.Store, transport listing.Transport, window, delay time.Duration, logger *zap.Logger) (*Notifier, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		store:     store,
		transport: transport,
		window:    window,
		delay:     delay,
		logger:    logger,
	}, nil
}

// NotifyPending delivers every pending listing inside the window. The
// sweep covers both listings from the current cycle and older ones whose
// delivery failed earlier. A listing whose topic has no subscribers is
// marked notified without a delivery.
func (n *Notifier) NotifyPending(ctx context.Context) (listing.NotificationStats, error) {
	var stats listing.NotificationStats

	pending, err := n.store.PendingNotifications(ctx, n.window)
	if err != nil {
		return stats, fmt.Errorf("load pending notifications: %w", err)
	}
	if len(pending) == 0 {
		return stats, nil
	}
	n.logger.Info("notification sweep started", zap.Int("pending", len(pending)))

	for i, stored := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if i > 0 && n.delay > 0 {
			if err := sleep(ctx, n.delay); err != nil {
				return stats, err
			}
		}
		n.notifyOne(ctx, stored, &stats)
	}

	n.logger.Info("notification sweep finished",
		zap.Int("sent", stats.Sent),
		zap.Int("failed", stats.Failed),
		zap.Int("empty_audience", stats.EmptyAudience),
	)
	return stats, nil
}

func (n *Notifier) notifyOne(ctx context.Context, stored listing.StoredListing, stats *listing.NotificationStats) {
	log := n.logger.With(zap.Int64("listing_id", stored.ID), zap.String("source", stored.Source))

	topic, err := n.store.TopicByID(ctx, stored.TopicID)
	if err != nil {
		log.Warn("topic lookup failed", zap.Error(err))
		stats.Failed++
		metrics.IncNotificationFailure()
		return
	}

	audience, err := n.store.SubscribersForTopic(ctx, stored.TopicID)
	if err != nil {
		log.Warn("audience lookup failed", zap.Error(err))
		stats.Failed++
		metrics.IncNotificationFailure()
		return
	}

	if len(audience) == 0 {
		// nobody to tell; retrying later would not change that
		if err := n.store.MarkNotified(ctx, stored.ID); err != nil {
			log.Warn("mark notified failed", zap.Error(err))
			stats.Failed++
			return
		}
		stats.EmptyAudience++
		return
	}

	msg := listing.ListingMessage{Listing: stored, Topic: *topic, Audience: audience}
	if err := n.transport.DeliverListing(ctx, msg); err != nil {
		// left pending, the next sweep retries
		log.Warn("delivery failed", zap.Error(err))
		stats.Failed++
		metrics.IncNotificationFailure()
		return
	}

	if err := n.store.MarkNotified(ctx, stored.ID); err != nil {
		log.Error("delivered but mark notified failed", zap.Error(err))
		stats.Failed++
		return
	}
	for _, sub := range audience {
		record := listing.DeliveryRecord{
			SubscriberID: sub.ID,
			ListingID:    stored.ID,
		}
		if err := n.store.SaveDelivery(ctx, record); err != nil {
			log.Warn("save delivery record failed",
				zap.Int64("subscriber_id", sub.ID), zap.Error(err))
		}
	}

	stats.Sent++
	metrics.IncNotificationSent()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
