package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ihabontop/jobwatch/internal/listing"
)

func sampleListing(url string) listing.Listing {
	return listing.Listing{
		Title:       "Data Analyst Apprentice",
		Company:     "ACME",
		URL:         url,
		Source:      "demo",
		PublishedAt: time.Now().UTC(),
		TopicID:     1,
	}
}

func TestInsertListingDeduplicatesOnSourceAndURL(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	first, err := s.InsertListing(ctx, sampleListing("https://x/1"))
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NotZero(t, first.ID)

	second, err := s.InsertListing(ctx, sampleListing("https://x/1"))
	require.NoError(t, err)
	require.Nil(t, second)

	// same URL, different source is a distinct identity
	other := sampleListing("https://x/1")
	other.Source = "hellowork"
	third, err := s.InsertListing(ctx, other)
	require.NoError(t, err)
	require.NotNil(t, third)
}

func TestInsertListingConcurrentRace(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	inserted := make(chan *listing.StoredListing, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stored, err := s.InsertListing(ctx, sampleListing("https://x/race"))
			require.NoError(t, err)
			inserted <- stored
		}()
	}
	wg.Wait()
	close(inserted)

	var wins int
	for stored := range inserted {
		if stored != nil {
			wins++
		}
	}
	require.Equal(t, 1, wins)
}

func TestPendingNotificationsSelectsUnnotifiedNewestFirst(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	base := time.Unix(1700000000, 0).UTC()
	current := base
	s.SetClock(func() time.Time { return current })

	old, err := s.InsertListing(ctx, sampleListing("https://x/old"))
	require.NoError(t, err)

	current = base.Add(time.Hour)
	fresh, err := s.InsertListing(ctx, sampleListing("https://x/new"))
	require.NoError(t, err)

	current = base.Add(2 * time.Hour)
	pending, err := s.PendingNotifications(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, fresh.ID, pending[0].ID)
	require.Equal(t, old.ID, pending[1].ID)

	require.NoError(t, s.MarkNotified(ctx, fresh.ID))
	pending, err = s.PendingNotifications(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, old.ID, pending[0].ID)

	// outside the window
	pending, err = s.PendingNotifications(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestRecentListingsFiltersByTopic(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	a := sampleListing("https://x/a")
	a.TopicID = 1
	b := sampleListing("https://x/b")
	b.TopicID = 2
	_, err := s.InsertListing(ctx, a)
	require.NoError(t, err)
	_, err = s.InsertListing(ctx, b)
	require.NoError(t, err)

	all, err := s.RecentListings(ctx, time.Hour, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	onlyTwo, err := s.RecentListings(ctx, time.Hour, 2)
	require.NoError(t, err)
	require.Len(t, onlyTwo, 1)
	require.Equal(t, int64(2), onlyTwo[0].TopicID)
}

func TestTopicLifecycle(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	created, err := s.CreateTopic(ctx, listing.Topic{Name: "Data Analyst", Category: "IT", Keywords: []string{"sql"}})
	require.NoError(t, err)
	require.True(t, created.Active)

	_, err = s.CreateTopic(ctx, listing.Topic{Name: "Data Analyst", Category: "IT"})
	require.Error(t, err)

	require.NoError(t, s.UpdateTopicKeywords(ctx, created.ID, []string{"sql", "python"}))
	got, err := s.TopicByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"sql", "python"}, got.Keywords)

	require.NoError(t, s.DeactivateTopic(ctx, created.ID))
	active, err := s.ActiveTopics(ctx)
	require.NoError(t, err)
	require.Empty(t, active)

	// name becomes reusable once the old topic is inactive
	_, err = s.CreateTopic(ctx, listing.Topic{Name: "Data Analyst", Category: "IT"})
	require.NoError(t, err)
}

func TestSubscriberInterests(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	topic, err := s.CreateTopic(ctx, listing.Topic{Name: "Comptabilité", Category: "Finance"})
	require.NoError(t, err)

	sub, err := s.UpsertSubscriber(ctx, listing.Subscriber{ExternalID: "42", Username: "alice"})
	require.NoError(t, err)
	require.True(t, sub.Active)

	// upsert updates in place, does not duplicate
	again, err := s.UpsertSubscriber(ctx, listing.Subscriber{ExternalID: "42", Username: "alice2", PreferredLocation: "Paris"})
	require.NoError(t, err)
	require.Equal(t, sub.ID, again.ID)
	require.Equal(t, "alice2", again.Username)

	require.NoError(t, s.AddSubscriberTopic(ctx, "42", topic.ID))
	subs, err := s.SubscribersForTopic(ctx, topic.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "alice2", subs[0].Username)

	require.NoError(t, s.RemoveSubscriberTopic(ctx, "42", topic.ID))
	subs, err = s.SubscribersForTopic(ctx, topic.ID)
	require.NoError(t, err)
	require.Empty(t, subs)

	require.ErrorIs(t, s.AddSubscriberTopic(ctx, "missing", topic.ID), ErrNotFound)
	require.ErrorIs(t, s.AddSubscriberTopic(ctx, "42", 999), ErrNotFound)
}
