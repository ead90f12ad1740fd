package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/ihabontop/jobwatch/internal/config"
	"github.com/ihabontop/jobwatch/internal/listing"
)

// SourceDemo is the registry name of the canned local adapter.
const SourceDemo = "demo"

// Demo returns deterministic canned offers so the full pipeline can run
// without network access or credentials. The URLs are stable per topic,
// so a second cycle produces only duplicates.
type Demo struct{}

// NewDemo builds the canned adapter.
func NewDemo(config.Source, Options) (listing.Adapter, error) {
	return &Demo{}, nil
}

// Name implements listing.Adapter.
func (d *Demo) Name() string { return SourceDemo }

// Close implements listing.Adapter.
func (d *Demo) Close() {}

// Search fabricates two offers per topic.
func (d *Demo) Search(_ context.Context, topic listing.Topic, location string) ([]listing.Candidate, error) {
	if location == "" {
		location = "Paris"
	}
	slug := strings.ReplaceAll(strings.ToLower(topic.Name), " ", "-")
	return []listing.Candidate{
		{
			Title:       fmt.Sprintf("Alternance %s (H/F)", topic.Name),
			Company:     "Demo Industries",
			Description: fmt.Sprintf("Contrat d'apprentissage %s.", topic.Name),
			Location:    location,
			URL:         fmt.Sprintf("https://jobs.example.org/%s/1", slug),
			ExternalID:  slug + "-1",
		},
		{
			Title:       fmt.Sprintf("%s en alternance", topic.Name),
			Company:     "Demo Labs",
			Description: fmt.Sprintf("Contrat de professionnalisation %s.", topic.Name),
			Location:    location,
			URL:         fmt.Sprintf("https://jobs.example.org/%s/2", slug),
			ExternalID:  slug + "-2",
		},
	}, nil
}
