// Package listing defines the core types and interfaces shared across the
// monitoring service: topics, canonical listings, subscribers and the
// contracts the orchestrator consumes.
package listing

import "time"

// CompanyUnspecified is stored when a source does not name the employer.
const CompanyUnspecified = "unspecified"

// Topic is a role or category subscribers register interest in.
type Topic struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	Keywords    []string  `json:"keywords"`
	ROMECode    string    `json:"rome_code,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Terms returns the search terms for the topic, falling back to the topic
// name when no keywords are configured.
func (t Topic) Terms() []string {
	if len(t.Keywords) == 0 {
		return []string{t.Name}
	}
	return t.Keywords
}

// Candidate is the raw unit a source adapter produces for one posting.
// Only Title and URL are load-bearing; everything else is best effort.
type Candidate struct {
	Title       string
	Company     string
	Description string
	Location    string
	Salary      string
	URL         string
	ExternalID  string
	PublishedAt *time.Time
}

// Listing is the canonical, validated form of a posting, ready for the store.
type Listing struct {
	Title       string    `json:"title"`
	Company     string    `json:"company"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Salary      string    `json:"salary,omitempty"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	ExternalID  string    `json:"external_id,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	TopicID     int64     `json:"topic_id"`
}

// StoredListing is a Listing after insertion, with the store-assigned
// identity and lifecycle flags.
type StoredListing struct {
	Listing
	ID        int64     `json:"id"`
	ScrapedAt time.Time `json:"scraped_at"`
	Active    bool      `json:"active"`
	Notified  bool      `json:"notified"`
}

// Subscriber is an external identity with topic interests.
type Subscriber struct {
	ID                int64     `json:"id"`
	ExternalID        string    `json:"external_id"`
	Username          string    `json:"username"`
	PreferredLocation string    `json:"preferred_location,omitempty"`
	MaxDistanceKm     int       `json:"max_distance_km"`
	NotifyRole        string    `json:"notify_role,omitempty"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
}

// DeliveryRecord is the durable proof that one subscriber was notified
// about one listing. Its existence prevents re-notification.
type DeliveryRecord struct {
	ID           int64     `json:"id"`
	SubscriberID int64     `json:"subscriber_id"`
	ListingID    int64     `json:"listing_id"`
	SentAt       time.Time `json:"sent_at"`
	WebhookURL   string    `json:"webhook_url,omitempty"`
	MessageID    string    `json:"message_id,omitempty"`
}

// SourceStats accumulates per-source outcomes within one cycle.
type SourceStats struct {
	Seen    int      `json:"seen"`
	New     int      `json:"new"`
	Invalid int      `json:"invalid"`
	Errors  []string `json:"errors,omitempty"`
}

// NotificationStats summarizes one fan-out pass.
type NotificationStats struct {
	Sent          int `json:"sent"`
	Failed        int `json:"failed"`
	EmptyAudience int `json:"empty_audience"`
}

// CycleStats is the ephemeral result of one monitoring cycle.
type CycleStats struct {
	CycleID       string                 `json:"cycle_id"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    time.Time              `json:"finished_at"`
	Duration      time.Duration          `json:"duration"`
	Sources       map[string]SourceStats `json:"sources"`
	TotalSeen     int                    `json:"total_seen"`
	TotalNew      int                    `json:"total_new"`
	Notifications NotificationStats      `json:"notifications"`
	Errors        []string               `json:"errors,omitempty"`
}
