// Package memory provides an in-memory listing.Store for development and
// testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ihabontop/jobwatch/internal/listing"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = listing.ErrNotFound

// Store implements listing.Store with mutex-guarded maps. The mutex makes
// the check-then-insert in InsertListing atomic under concurrent callers.
type Store struct {
	mu sync.Mutex

	topics      map[int64]listing.Topic
	listings    map[int64]listing.StoredListing
	subscribers map[int64]listing.Subscriber
	interests   map[int64]map[int64]struct{} // subscriber id -> topic ids
	deliveries  []listing.DeliveryRecord

	nextTopicID      int64
	nextListingID    int64
	nextSubscriberID int64
	nextDeliveryID   int64

	now func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		topics:      make(map[int64]listing.Topic),
		listings:    make(map[int64]listing.StoredListing),
		subscribers: make(map[int64]listing.Subscriber),
		interests:   make(map[int64]map[int64]struct{}),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock swaps the time source (testing only).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// InsertListing stores l unless an active (source, url) twin exists, in
// which case it returns (nil, nil).
func (s *Store) InsertListing(_ context.Context, l listing.Listing) (*listing.StoredListing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.listings {
		if existing.Active && existing.Source == l.Source && existing.URL == l.URL {
			return nil, nil
		}
	}

	s.nextListingID++
	stored := listing.StoredListing{
		Listing:   l,
		ID:        s.nextListingID,
		ScrapedAt: s.now(),
		Active:    true,
	}
	s.listings[stored.ID] = stored
	return &stored, nil
}

// ActiveTopics returns active topics ordered by category then name.
func (s *Store) ActiveTopics(_ context.Context) ([]listing.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var topics []listing.Topic
	for _, t := range s.topics {
		if t.Active {
			topics = append(topics, t)
		}
	}
	sort.Slice(topics, func(i, j int) bool {
		if topics[i].Category != topics[j].Category {
			return topics[i].Category < topics[j].Category
		}
		return topics[i].Name < topics[j].Name
	})
	return topics, nil
}

// TopicByID fetches one topic.
func (s *Store) TopicByID(_ context.Context, id int64) (*listing.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

// TopicByName fetches one topic by exact name.
func (s *Store) TopicByName(_ context.Context, name string) (*listing.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.topics {
		if t.Name == name {
			topic := t
			return &topic, nil
		}
	}
	return nil, ErrNotFound
}

// CreateTopic stores a new topic; the name must be unique among active topics.
func (s *Store) CreateTopic(_ context.Context, t listing.Topic) (*listing.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.topics {
		if existing.Active && existing.Name == t.Name {
			return nil, errors.New("topic name already exists")
		}
	}

	s.nextTopicID++
	t.ID = s.nextTopicID
	t.Active = true
	t.CreatedAt = s.now()
	s.topics[t.ID] = t
	return &t, nil
}

// UpdateTopicKeywords replaces the topic's search terms wholesale.
func (s *Store) UpdateTopicKeywords(_ context.Context, id int64, keywords []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[id]
	if !ok {
		return ErrNotFound
	}
	t.Keywords = append([]string(nil), keywords...)
	s.topics[id] = t
	return nil
}

// DeactivateTopic soft-deletes a topic.
func (s *Store) DeactivateTopic(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[id]
	if !ok {
		return ErrNotFound
	}
	t.Active = false
	s.topics[id] = t
	return nil
}

// RecentListings returns active listings scraped within the window,
// newest first. A zero topicID matches all topics.
func (s *Store) RecentListings(_ context.Context, window time.Duration, topicID int64) ([]listing.StoredListing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-window)
	var out []listing.StoredListing
	for _, l := range s.listings {
		if !l.Active || l.ScrapedAt.Before(cutoff) {
			continue
		}
		if topicID != 0 && l.TopicID != topicID {
			continue
		}
		out = append(out, l)
	}
	sortNewestFirst(out)
	return out, nil
}

// PendingNotifications returns active unnotified listings within the
// window, newest first.
func (s *Store) PendingNotifications(_ context.Context, window time.Duration) ([]listing.StoredListing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-window)
	var out []listing.StoredListing
	for _, l := range s.listings {
		if l.Active && !l.Notified && !l.ScrapedAt.Before(cutoff) {
			out = append(out, l)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// MarkNotified flips the notified flag.
func (s *Store) MarkNotified(_ context.Context, listingID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[listingID]
	if !ok {
		return ErrNotFound
	}
	l.Notified = true
	s.listings[listingID] = l
	return nil
}

// SaveDelivery appends a delivery record.
func (s *Store) SaveDelivery(_ context.Context, d listing.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextDeliveryID++
	d.ID = s.nextDeliveryID
	if d.SentAt.IsZero() {
		d.SentAt = s.now()
	}
	s.deliveries = append(s.deliveries, d)
	return nil
}

// Deliveries returns a copy of all delivery records (testing helper).
func (s *Store) Deliveries() []listing.DeliveryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]listing.DeliveryRecord(nil), s.deliveries...)
}

// SubscribersForTopic returns active subscribers interested in the topic.
func (s *Store) SubscribersForTopic(_ context.Context, topicID int64) ([]listing.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []listing.Subscriber
	for subID, topicIDs := range s.interests {
		if _, ok := topicIDs[topicID]; !ok {
			continue
		}
		sub, ok := s.subscribers[subID]
		if ok && sub.Active {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SubscriberByExternalID fetches one subscriber by external identity.
func (s *Store) SubscriberByExternalID(_ context.Context, externalID string) (*listing.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.findByExternalID(externalID)
	if !ok {
		return nil, ErrNotFound
	}
	return &sub, nil
}

// UpsertSubscriber creates or updates a subscriber keyed by external identity.
func (s *Store) UpsertSubscriber(_ context.Context, sub listing.Subscriber) (*listing.Subscriber, error) {
	if strings.TrimSpace(sub.ExternalID) == "" {
		return nil, errors.New("external id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.findByExternalID(sub.ExternalID); ok {
		existing.Username = sub.Username
		existing.PreferredLocation = sub.PreferredLocation
		existing.MaxDistanceKm = sub.MaxDistanceKm
		existing.NotifyRole = sub.NotifyRole
		existing.Active = true
		s.subscribers[existing.ID] = existing
		return &existing, nil
	}

	s.nextSubscriberID++
	sub.ID = s.nextSubscriberID
	sub.Active = true
	sub.CreatedAt = s.now()
	s.subscribers[sub.ID] = sub
	s.interests[sub.ID] = make(map[int64]struct{})
	return &sub, nil
}

// AddSubscriberTopic registers a topic interest.
func (s *Store) AddSubscriberTopic(_ context.Context, externalID string, topicID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.findByExternalID(externalID)
	if !ok {
		return ErrNotFound
	}
	if _, ok := s.topics[topicID]; !ok {
		return ErrNotFound
	}
	if s.interests[sub.ID] == nil {
		s.interests[sub.ID] = make(map[int64]struct{})
	}
	s.interests[sub.ID][topicID] = struct{}{}
	return nil
}

// RemoveSubscriberTopic drops a topic interest.
func (s *Store) RemoveSubscriberTopic(_ context.Context, externalID string, topicID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.findByExternalID(externalID)
	if !ok {
		return ErrNotFound
	}
	delete(s.interests[sub.ID], topicID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() {}

func (s *Store) findByExternalID(externalID string) (listing.Subscriber, bool) {
	for _, sub := range s.subscribers {
		if sub.ExternalID == externalID {
			return sub, true
		}
	}
	return listing.Subscriber{}, false
}

func sortNewestFirst(listings []listing.StoredListing) {
	sort.Slice(listings, func(i, j int) bool {
		if !listings[i].ScrapedAt.Equal(listings[j].ScrapedAt) {
			return listings[i].ScrapedAt.After(listings[j].ScrapedAt)
		}
		return listings[i].ID > listings[j].ID
	})
}
