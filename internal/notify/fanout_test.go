package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ihabontop/jobwatch/internal/listing"
	"github.com/ihabontop/jobwatch/internal/store/memory"
)

// fakeTransport records deliveries and can be told to fail.
type fakeTransport struct {
	mu       sync.Mutex
	fail     bool
	listings []listing.ListingMessage
}

func (f *fakeTransport) DeliverListing(_ context.Context, msg listing.ListingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("transport down")
	}
	f.listings = append(f.listings, msg)
	return nil
}

func (f *fakeTransport) DeliverSummary(context.Context, listing.CycleStats) error { return nil }

func (f *fakeTransport) DeliverError(context.Context, string, error) error { return nil }

func (f *fakeTransport) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeTransport) delivered() []listing.ListingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]listing.ListingMessage(nil), f.listings...)
}

func seedListing(t *testing.T, s *memory.Store, topicID int64, url string) *listing.StoredListing {
	t.Helper()
	stored, err := s.InsertListing(context.Background(), listing.Listing{
		Title:       "Data Analyst en alternance",
		Company:     "ACME",
		URL:         url,
		Source:      "demo",
		PublishedAt: time.Now().UTC(),
		TopicID:     topicID,
	})
	require.NoError(t, err)
	require.NotNil(t, stored)
	return stored
}

func TestNotifyPendingDeliversAndMarks(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	topic, err := s.CreateTopic(ctx, listing.Topic{Name: "Data Analyst", Category: "Informatique"})
	require.NoError(t, err)
	_, err = s.UpsertSubscriber(ctx, listing.Subscriber{ExternalID: "42", Username: "alice"})
	require.NoError(t, err)
	require.NoError(t, s.AddSubscriberTopic(ctx, "42", topic.ID))

	stored := seedListing(t, s, topic.ID, "https://x/1")

	transport := &fakeTransport{}
	n, err := New(s, transport, 24*time.Hour, 0, nil)
	require.NoError(t, err)

	stats, err := n.NotifyPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Sent)
	require.Zero(t, stats.Failed)

	delivered := transport.delivered()
	require.Len(t, delivered, 1)
	require.Equal(t, stored.ID, delivered[0].Listing.ID)
	require.Equal(t, topic.Name, delivered[0].Topic.Name)
	require.Len(t, delivered[0].Audience, 1)

	// marked, so a second sweep delivers nothing
	stats, err = n.NotifyPending(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Sent)

	records := s.Deliveries()
	require.Len(t, records, 1)
	require.Equal(t, stored.ID, records[0].ListingID)
}

func TestNotifyPendingEmptyAudienceMarksWithoutDelivery(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	topic, err := s.CreateTopic(ctx, listing.Topic{Name: "Comptabilité"})
	require.NoError(t, err)
	seedListing(t, s, topic.ID, "https://x/2")

	transport := &fakeTransport{}
	n, err := New(s, transport, 24*time.Hour, 0, nil)
	require.NoError(t, err)

	stats, err := n.NotifyPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.EmptyAudience)
	require.Empty(t, transport.delivered())

	pending, err := s.PendingNotifications(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestNotifyPendingRetriesFailedDeliveryOnNextSweep(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	topic, err := s.CreateTopic(ctx, listing.Topic{Name: "RH"})
	require.NoError(t, err)
	_, err = s.UpsertSubscriber(ctx, listing.Subscriber{ExternalID: "42"})
	require.NoError(t, err)
	require.NoError(t, s.AddSubscriberTopic(ctx, "42", topic.ID))
	seedListing(t, s, topic.ID, "https://x/3")

	transport := &fakeTransport{}
	transport.setFail(true)
	n, err := New(s, transport, 24*time.Hour, 0, nil)
	require.NoError(t, err)

	stats, err := n.NotifyPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)
	require.Zero(t, stats.Sent)

	// listing stays pending until the transport recovers
	transport.setFail(false)
	stats, err = n.NotifyPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Sent)
}

func TestNotifyPendingHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	topic, err := s.CreateTopic(ctx, listing.Topic{Name: "Marketing"})
	require.NoError(t, err)
	seedListing(t, s, topic.ID, "https://x/4")
	seedListing(t, s, topic.ID, "https://x/5")

	n, err := New(s, &fakeTransport{}, 24*time.Hour, time.Minute, nil)
	require.NoError(t, err)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = n.NotifyPending(canceled)
	require.ErrorIs(t, err, context.Canceled)
}
