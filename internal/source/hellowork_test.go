package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ihabontop/jobwatch/internal/config"
	"github.com/ihabontop/jobwatch/internal/listing"
)

const helloWorkResultsPage = `<!DOCTYPE html>
<html><body>
<ul>
  <li data-id-storage-target="item">
    <a data-cy="offerTitle" href="/fr-fr/emplois/1234567.html">Data Analyst en alternance</a>
    <span data-cy="companyName">ACME</span>
    <div data-cy="localisationCard">Paris - 75</div>
    <div data-cy="contractCard">Alternance</div>
  </li>
  <li data-id-storage-target="item">
    <a data-cy="offerTitle" href="/fr-fr/emplois/7654321.html">Apprenti comptable</a>
    <span data-cy="companyName">Cabinet Durand</span>
    <div data-cy="localisationCard">Lyon - 69</div>
  </li>
  <li data-id-storage-target="item">
    <div>sponsored tile without a link</div>
  </li>
</ul>
</body></html>`

func TestHelloWorkSearchParsesOfferCards(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fr-fr/emploi/recherche.html", r.URL.Path)
		require.Equal(t, "data analyst", r.URL.Query().Get("k"))
		require.Equal(t, "Paris", r.URL.Query().Get("l"))
		require.Equal(t, "Alternance", r.URL.Query().Get("c"))
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, helloWorkResultsPage)
	}))
	t.Cleanup(server.Close)

	adapter, err := NewHelloWork(config.Source{BaseURL: server.URL}, Options{UserAgent: "jobwatch-test/0.1"})
	require.NoError(t, err)

	topic := listing.Topic{Name: "Data Analyst", Keywords: []string{"data analyst"}}
	candidates, err := adapter.Search(context.Background(), topic, "Paris")
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	require.Equal(t, "Data Analyst en alternance", candidates[0].Title)
	require.Equal(t, "ACME", candidates[0].Company)
	require.Equal(t, "Paris - 75", candidates[0].Location)
	require.Equal(t, server.URL+"/fr-fr/emplois/1234567.html", candidates[0].URL)

	require.Equal(t, "Apprenti comptable", candidates[1].Title)
	require.Equal(t, "Cabinet Durand", candidates[1].Company)
}

func TestHelloWorkSearchDeduplicatesAcrossTerms(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, helloWorkResultsPage)
	}))
	t.Cleanup(server.Close)

	adapter, err := NewHelloWork(config.Source{BaseURL: server.URL}, Options{})
	require.NoError(t, err)

	// both terms return the same page, so the same offers appear twice
	topic := listing.Topic{Name: "Comptabilité", Keywords: []string{"comptable", "comptabilité"}}
	candidates, err := adapter.Search(context.Background(), topic, "")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
}

func TestHelloWorkServerErrorIsAdapterError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	adapter, err := NewHelloWork(config.Source{BaseURL: server.URL}, Options{})
	require.NoError(t, err)

	_, err = adapter.Search(context.Background(), listing.Topic{Name: "RH"}, "")
	var adapterErr *listing.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, SourceHelloWork, adapterErr.Source)
}
