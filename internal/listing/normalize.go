package listing

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// DescriptionCap bounds the stored description length in runes.
const DescriptionCap = 500

// Normalize converts a raw candidate into a canonical Listing, applying
// field defaults and validation. It is the sole content gate before store
// insertion; the store only checks identity.
func Normalize(c Candidate, topicID int64, source string, now time.Time) (Listing, error) {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		return Listing{}, &InvalidListingError{Field: "title", Reason: "is empty"}
	}

	rawURL := strings.TrimSpace(c.URL)
	if rawURL == "" {
		return Listing{}, &InvalidListingError{Field: "url", Reason: "is empty"}
	}
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return Listing{}, &InvalidListingError{Field: "url", Reason: "is not absolute"}
	}

	company := strings.TrimSpace(c.Company)
	if company == "" {
		company = CompanyUnspecified
	}

	published := now
	if c.PublishedAt != nil && !c.PublishedAt.IsZero() {
		published = *c.PublishedAt
	}

	return Listing{
		Title:       title,
		Company:     company,
		Description: truncate(strings.TrimSpace(c.Description), DescriptionCap),
		Location:    strings.TrimSpace(c.Location),
		Salary:      strings.TrimSpace(c.Salary),
		URL:         rawURL,
		Source:      source,
		ExternalID:  strings.TrimSpace(c.ExternalID),
		PublishedAt: published,
		TopicID:     topicID,
	}, nil
}

// truncate caps s at n runes; a cut string ends in an ellipsis and
// still fits the cap.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
