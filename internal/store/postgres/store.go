// Package postgres provides the Postgres-backed listing store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ihabontop/jobwatch/internal/listing"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = listing.ErrNotFound

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements listing.Store on a pgx connection pool. Listing
// deduplication rides the unique index on (source, url): the racing
// insert that loses observes zero returned rows.
type Store struct {
	pool dbPool
}

// New connects a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// InsertListing inserts l and returns the stored record, or (nil, nil)
// when an active (source, url) twin already exists. The ON CONFLICT
// clause makes the check-then-insert atomic under concurrent callers.
func (s *Store) InsertListing(ctx context.Context, l listing.Listing) (*listing.StoredListing, error) {
	const query = `
INSERT INTO listings (
	title, company, description, location, salary,
	url, source, external_id, published_at, topic_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (source, url) WHERE is_active DO NOTHING
RETURNING id, scraped_at`

	stored := listing.StoredListing{Listing: l, Active: true}
	err := s.pool.QueryRow(ctx, query,
		l.Title,
		l.Company,
		l.Description,
		l.Location,
		l.Salary,
		l.URL,
		l.Source,
		l.ExternalID,
		l.PublishedAt,
		l.TopicID,
	).Scan(&stored.ID, &stored.ScrapedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert listing: %w", err)
	}
	return &stored, nil
}

// ActiveTopics returns active topics ordered by category then name.
func (s *Store) ActiveTopics(ctx context.Context) ([]listing.Topic, error) {
	const query = `
SELECT id, name, category, description, keywords, rome_code, is_active, created_at
FROM topics
WHERE is_active
ORDER BY category, name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active topics: %w", err)
	}
	defer rows.Close()
	return scanTopics(rows)
}

// TopicByID fetches one topic.
func (s *Store) TopicByID(ctx context.Context, id int64) (*listing.Topic, error) {
	const query = `
SELECT id, name, category, description, keywords, rome_code, is_active, created_at
FROM topics
WHERE id = $1`

	return s.scanOneTopic(s.pool.QueryRow(ctx, query, id))
}

// TopicByName fetches one active topic by exact name.
func (s *Store) TopicByName(ctx context.Context, name string) (*listing.Topic, error) {
	const query = `
SELECT id, name, category, description, keywords, rome_code, is_active, created_at
FROM topics
WHERE name = $1 AND is_active`

	return s.scanOneTopic(s.pool.QueryRow(ctx, query, name))
}

// CreateTopic inserts a new active topic. Active topic names are unique.
func (s *Store) CreateTopic(ctx context.Context, t listing.Topic) (*listing.Topic, error) {
	const query = `
INSERT INTO topics (name, category, description, keywords, rome_code)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at`

	t.Active = true
	err := s.pool.QueryRow(ctx, query,
		t.Name, t.Category, t.Description, t.Keywords, t.ROMECode,
	).Scan(&t.ID, &t.CreatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("topic %q already exists", t.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("insert topic: %w", err)
	}
	return &t, nil
}

// UpdateTopicKeywords replaces the topic's search terms wholesale.
func (s *Store) UpdateTopicKeywords(ctx context.Context, id int64, keywords []string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE topics SET keywords = $2 WHERE id = $1`, id, keywords)
	if err != nil {
		return fmt.Errorf("update topic keywords: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateTopic soft-deletes a topic.
func (s *Store) DeactivateTopic(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE topics SET is_active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate topic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentListings returns active listings scraped within the trailing
// window, newest first. A zero topicID matches all topics.
func (s *Store) RecentListings(ctx context.Context, window time.Duration, topicID int64) ([]listing.StoredListing, error) {
	const query = `
SELECT id, title, company, description, location, salary,
       url, source, external_id, published_at, topic_id,
       scraped_at, is_active, is_notified
FROM listings
WHERE is_active
  AND scraped_at >= now() - $1::interval
  AND ($2::bigint = 0 OR topic_id = $2)
ORDER BY scraped_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, window, topicID)
	if err != nil {
		return nil, fmt.Errorf("query recent listings: %w", err)
	}
	defer rows.Close()
	return scanListings(rows)
}

// PendingNotifications returns active unnotified listings within the
// trailing window, newest first.
func (s *Store) PendingNotifications(ctx context.Context, window time.Duration) ([]listing.StoredListing, error) {
	const query = `
SELECT id, title, company, description, location, salary,
       url, source, external_id, published_at, topic_id,
       scraped_at, is_active, is_notified
FROM listings
WHERE is_active
  AND NOT is_notified
  AND scraped_at >= now() - $1::interval
ORDER BY scraped_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, window)
	if err != nil {
		return nil, fmt.Errorf("query pending notifications: %w", err)
	}
	defer rows.Close()
	return scanListings(rows)
}

// MarkNotified flips the notified flag.
func (s *Store) MarkNotified(ctx context.Context, listingID int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE listings SET is_notified = true WHERE id = $1`, listingID)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveDelivery records one (subscriber, listing) delivery. A repeated
// pair is ignored: the record is an idempotence marker, not a log.
func (s *Store) SaveDelivery(ctx context.Context, d listing.DeliveryRecord) error {
	const query = `
INSERT INTO deliveries (subscriber_id, listing_id, sent_at, webhook_url, message_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (subscriber_id, listing_id) DO NOTHING`

	sentAt := d.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, query, d.SubscriberID, d.ListingID, sentAt, d.WebhookURL, d.MessageID); err != nil {
		return fmt.Errorf("save delivery: %w", err)
	}
	return nil
}

// SubscribersForTopic returns active subscribers interested in the topic.
func (s *Store) SubscribersForTopic(ctx context.Context, topicID int64) ([]listing.Subscriber, error) {
	const query = `
SELECT s.id, s.external_id, s.username, s.preferred_location,
       s.max_distance_km, s.notify_role, s.is_active, s.created_at
FROM subscribers s
JOIN subscriber_topics st ON st.subscriber_id = s.id
WHERE st.topic_id = $1 AND s.is_active
ORDER BY s.id`

	rows, err := s.pool.Query(ctx, query, topicID)
	if err != nil {
		return nil, fmt.Errorf("query subscribers for topic: %w", err)
	}
	defer rows.Close()

	var subs []listing.Subscriber
	for rows.Next() {
		var sub listing.Subscriber
		if err := rows.Scan(
			&sub.ID, &sub.ExternalID, &sub.Username, &sub.PreferredLocation,
			&sub.MaxDistanceKm, &sub.NotifyRole, &sub.Active, &sub.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return subs, nil
}

// SubscriberByExternalID fetches one subscriber by external identity.
func (s *Store) SubscriberByExternalID(ctx context.Context, externalID string) (*listing.Subscriber, error) {
	const query = `
SELECT id, external_id, username, preferred_location,
       max_distance_km, notify_role, is_active, created_at
FROM subscribers
WHERE external_id = $1`

	var sub listing.Subscriber
	err := s.pool.QueryRow(ctx, query, externalID).Scan(
		&sub.ID, &sub.ExternalID, &sub.Username, &sub.PreferredLocation,
		&sub.MaxDistanceKm, &sub.NotifyRole, &sub.Active, &sub.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query subscriber: %w", err)
	}
	return &sub, nil
}

// UpsertSubscriber creates or updates a subscriber keyed by external identity.
func (s *Store) UpsertSubscriber(ctx context.Context, sub listing.Subscriber) (*listing.Subscriber, error) {
	const query = `
INSERT INTO subscribers (external_id, username, preferred_location, max_distance_km, notify_role)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (external_id) DO UPDATE SET
	username = EXCLUDED.username,
	preferred_location = EXCLUDED.preferred_location,
	max_distance_km = EXCLUDED.max_distance_km,
	notify_role = EXCLUDED.notify_role,
	is_active = true
RETURNING id, is_active, created_at`

	err := s.pool.QueryRow(ctx, query,
		sub.ExternalID, sub.Username, sub.PreferredLocation, sub.MaxDistanceKm, sub.NotifyRole,
	).Scan(&sub.ID, &sub.Active, &sub.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert subscriber: %w", err)
	}
	return &sub, nil
}

// AddSubscriberTopic registers a topic interest.
func (s *Store) AddSubscriberTopic(ctx context.Context, externalID string, topicID int64) error {
	const query = `
INSERT INTO subscriber_topics (subscriber_id, topic_id)
SELECT s.id, t.id
FROM subscribers s, topics t
WHERE s.external_id = $1 AND t.id = $2
ON CONFLICT DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, externalID, topicID)
	if err != nil {
		return fmt.Errorf("add subscriber topic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// either the pair already exists or subscriber/topic is missing;
		// distinguish so callers can surface a useful error
		if _, err := s.SubscriberByExternalID(ctx, externalID); err != nil {
			return err
		}
		if _, err := s.TopicByID(ctx, topicID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveSubscriberTopic drops a topic interest.
func (s *Store) RemoveSubscriberTopic(ctx context.Context, externalID string, topicID int64) error {
	const query = `
DELETE FROM subscriber_topics st
USING subscribers s
WHERE st.subscriber_id = s.id AND s.external_id = $1 AND st.topic_id = $2`

	if _, err := s.pool.Exec(ctx, query, externalID, topicID); err != nil {
		return fmt.Errorf("remove subscriber topic: %w", err)
	}
	return nil
}

func (s *Store) scanOneTopic(row pgx.Row) (*listing.Topic, error) {
	var t listing.Topic
	err := row.Scan(
		&t.ID, &t.Name, &t.Category, &t.Description,
		&t.Keywords, &t.ROMECode, &t.Active, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan topic: %w", err)
	}
	return &t, nil
}

func scanTopics(rows pgx.Rows) ([]listing.Topic, error) {
	var topics []listing.Topic
	for rows.Next() {
		var t listing.Topic
		if err := rows.Scan(
			&t.ID, &t.Name, &t.Category, &t.Description,
			&t.Keywords, &t.ROMECode, &t.Active, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return topics, nil
}

func scanListings(rows pgx.Rows) ([]listing.StoredListing, error) {
	var listings []listing.StoredListing
	for rows.Next() {
		var l listing.StoredListing
		if err := rows.Scan(
			&l.ID, &l.Title, &l.Company, &l.Description, &l.Location, &l.Salary,
			&l.URL, &l.Source, &l.ExternalID, &l.PublishedAt, &l.TopicID,
			&l.ScrapedAt, &l.Active, &l.Notified,
		); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return listings, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
