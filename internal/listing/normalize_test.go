package listing

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAppliesDefaults(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	got, err := Normalize(Candidate{
		Title: "  Data Analyst Apprentice ",
		URL:   "https://example.com/jobs/1",
	}, 7, "francetravail", now)
	require.NoError(t, err)

	require.Equal(t, "Data Analyst Apprentice", got.Title)
	require.Equal(t, CompanyUnspecified, got.Company)
	require.Equal(t, "https://example.com/jobs/1", got.URL)
	require.Equal(t, "francetravail", got.Source)
	require.Equal(t, int64(7), got.TopicID)
	require.Equal(t, now, got.PublishedAt)
}

func TestNormalizeKeepsProvidedFields(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	got, err := Normalize(Candidate{
		Title:       "Développeur Web",
		Company:     "ACME",
		Description: "PHP and Symfony apprenticeship",
		Location:    "Lyon",
		Salary:      "1200 €",
		URL:         "https://example.com/jobs/2",
		ExternalID:  "ext-42",
		PublishedAt: &published,
	}, 3, "hellowork", time.Now())
	require.NoError(t, err)

	require.Equal(t, "ACME", got.Company)
	require.Equal(t, "Lyon", got.Location)
	require.Equal(t, "1200 €", got.Salary)
	require.Equal(t, "ext-42", got.ExternalID)
	require.Equal(t, published, got.PublishedAt)
}

func TestNormalizeTruncatesDescription(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", DescriptionCap+50)
	got, err := Normalize(Candidate{
		Title:       "Comptable",
		URL:         "https://example.com/jobs/3",
		Description: long,
	}, 1, "demo", time.Now())
	require.NoError(t, err)

	runes := []rune(got.Description)
	require.Len(t, runes, DescriptionCap)
	require.Equal(t, '…', runes[len(runes)-1])

	// a description exactly at the cap is stored untouched
	exact := strings.Repeat("é", DescriptionCap)
	got, err = Normalize(Candidate{
		Title:       "Comptable",
		URL:         "https://example.com/jobs/4",
		Description: exact,
	}, 1, "demo", time.Now())
	require.NoError(t, err)
	require.Equal(t, exact, got.Description)
}

func TestNormalizeRejectsMissingFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		candidate Candidate
	}{
		{"empty title", Candidate{URL: "https://example.com/x"}},
		{"blank title", Candidate{Title: "   ", URL: "https://example.com/x"}},
		{"empty url", Candidate{Title: "ok"}},
		{"relative url", Candidate{Title: "ok", URL: "/jobs/1"}},
		{"garbage url", Candidate{Title: "ok", URL: "::://"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Normalize(tc.candidate, 1, "demo", time.Now())
			var invalid *InvalidListingError
			require.ErrorAs(t, err, &invalid)
		})
	}
}

func TestTopicTermsFallsBackToName(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"sql", "python"}, Topic{Name: "Data Analyst", Keywords: []string{"sql", "python"}}.Terms())
	require.Equal(t, []string{"Data Analyst"}, Topic{Name: "Data Analyst"}.Terms())
}
