package listing

import (
	"context"
	"time"
)

// Store persists topics, listings, subscribers and delivery records.
type Store interface {
	// InsertListing stores a new listing and returns the stored record.
	// A (source, url) pair that already exists yields (nil, nil): the
	// duplicate signal, not an error. The check-then-insert is atomic
	// with respect to concurrent callers.
	InsertListing(ctx context.Context, l Listing) (*StoredListing, error)

	ActiveTopics(ctx context.Context) ([]Topic, error)
	TopicByID(ctx context.Context, id int64) (*Topic, error)
	TopicByName(ctx context.Context, name string) (*Topic, error)
	CreateTopic(ctx context.Context, t Topic) (*Topic, error)
	UpdateTopicKeywords(ctx context.Context, id int64, keywords []string) error
	DeactivateTopic(ctx context.Context, id int64) error

	// RecentListings returns active listings scraped within the trailing
	// window, newest first. topicID of zero means all topics.
	RecentListings(ctx context.Context, window time.Duration, topicID int64) ([]StoredListing, error)
	// PendingNotifications returns active, unnotified listings scraped
	// within the trailing window, newest first.
	PendingNotifications(ctx context.Context, window time.Duration) ([]StoredListing, error)
	MarkNotified(ctx context.Context, listingID int64) error
	SaveDelivery(ctx context.Context, d DeliveryRecord) error

	SubscribersForTopic(ctx context.Context, topicID int64) ([]Subscriber, error)
	SubscriberByExternalID(ctx context.Context, externalID string) (*Subscriber, error)
	UpsertSubscriber(ctx context.Context, s Subscriber) (*Subscriber, error)
	AddSubscriberTopic(ctx context.Context, externalID string, topicID int64) error
	RemoveSubscriberTopic(ctx context.Context, externalID string, topicID int64) error

	Close()
}

// Adapter queries one external site or API for candidate listings.
// Search must return an error on unrecoverable transport failure rather
// than a silent empty list; zero results with nil error means "no results".
type Adapter interface {
	Name() string
	Search(ctx context.Context, topic Topic, location string) ([]Candidate, error)
	Close()
}

// ListingMessage is one outbound notification addressed to an audience.
type ListingMessage struct {
	Listing  StoredListing
	Topic    Topic
	Audience []Subscriber
}

// Transport delivers notifications to the outside world. A non-nil error
// means the delivery failed and the caller may retry on a later sweep.
type Transport interface {
	DeliverListing(ctx context.Context, msg ListingMessage) error
	DeliverSummary(ctx context.Context, stats CycleStats) error
	DeliverError(ctx context.Context, contextText string, err error) error
}

// Clock returns the current time (swappable for testing).
type Clock interface {
	Now() time.Time
}
