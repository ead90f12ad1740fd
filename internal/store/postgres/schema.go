package postgres

import (
	"context"
	"fmt"

	"github.com/ihabontop/jobwatch/internal/listing"
)

// schemaStatements are applied in order by EnsureSchema. Each statement
// is idempotent so startup can run them unconditionally.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS topics (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	keywords    TEXT[] NOT NULL DEFAULT '{}',
	rome_code   TEXT NOT NULL DEFAULT '',
	is_active   BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_topics_name
	ON topics (name) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS listings (
	id           BIGSERIAL PRIMARY KEY,
	title        TEXT NOT NULL,
	company      TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	location     TEXT NOT NULL DEFAULT '',
	salary       TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL,
	source       TEXT NOT NULL,
	external_id  TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ NOT NULL,
	topic_id     BIGINT NOT NULL REFERENCES topics(id),
	scraped_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	is_active    BOOLEAN NOT NULL DEFAULT TRUE,
	is_notified  BOOLEAN NOT NULL DEFAULT FALSE
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_listings_identity
	ON listings (source, url) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS subscribers (
	id                 BIGSERIAL PRIMARY KEY,
	external_id        TEXT NOT NULL UNIQUE,
	username           TEXT NOT NULL DEFAULT '',
	preferred_location TEXT NOT NULL DEFAULT '',
	max_distance_km    INTEGER NOT NULL DEFAULT 0,
	notify_role        TEXT NOT NULL DEFAULT '',
	is_active          BOOLEAN NOT NULL DEFAULT TRUE,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS subscriber_topics (
	subscriber_id BIGINT NOT NULL REFERENCES subscribers(id) ON DELETE CASCADE,
	topic_id      BIGINT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
	PRIMARY KEY (subscriber_id, topic_id)
)`,
	`CREATE TABLE IF NOT EXISTS deliveries (
	id            BIGSERIAL PRIMARY KEY,
	subscriber_id BIGINT NOT NULL REFERENCES subscribers(id),
	listing_id    BIGINT NOT NULL REFERENCES listings(id),
	sent_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	webhook_url   TEXT NOT NULL DEFAULT '',
	message_id    TEXT NOT NULL DEFAULT '',
	UNIQUE (subscriber_id, listing_id)
)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// starterTopics are created on first boot so a fresh deployment starts
// monitoring something useful immediately.
var starterTopics = []listing.Topic{
	{Name: "Développeur", Category: "Informatique", Keywords: []string{"développeur", "developpeur", "alternance"}, ROMECode: "M1805"},
	{Name: "Data Analyst", Category: "Informatique", Keywords: []string{"data analyst", "données", "alternance"}, ROMECode: "M1403"},
	{Name: "Comptabilité", Category: "Finance", Keywords: []string{"comptable", "comptabilité", "alternance"}, ROMECode: "M1203"},
	{Name: "Marketing Digital", Category: "Marketing", Keywords: []string{"marketing digital", "communication", "alternance"}, ROMECode: "E1402"},
	{Name: "Ressources Humaines", Category: "RH", Keywords: []string{"ressources humaines", "rh", "alternance"}, ROMECode: "M1502"},
}

// SeedTopics inserts the starter topics when the topics table is empty.
func (s *Store) SeedTopics(ctx context.Context) (int, error) {
	existing, err := s.ActiveTopics(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	var created int
	for _, t := range starterTopics {
		if _, err := s.CreateTopic(ctx, t); err != nil {
			return created, fmt.Errorf("seed topic %q: %w", t.Name, err)
		}
		created++
	}
	return created, nil
}
