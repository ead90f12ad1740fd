package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ihabontop/jobwatch/internal/config"
	"github.com/ihabontop/jobwatch/internal/listing"
)

func franceTravailServer(t *testing.T, tokenCalls *atomic.Int32, offers any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/connexion/oauth2/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.FormValue("grant_type"))
		require.Equal(t, "id-1", r.FormValue("client_id"))
		tokenCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 1499})
	})
	mux.HandleFunc("/partenaire/offresdemploi/v2/offres/search", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		if offers == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"resultats": offers})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestFranceTravail(t *testing.T, baseURL string) listing.Adapter {
	t.Helper()
	adapter, err := NewFranceTravail(config.Source{
		BaseURL:      baseURL,
		ClientID:     "id-1",
		ClientSecret: "secret-1",
	}, Options{})
	require.NoError(t, err)
	return adapter
}

func TestFranceTravailSearchMapsOffers(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	server := franceTravailServer(t, &tokenCalls, []map[string]any{
		{
			"id":           "FT-1",
			"intitule":     "Data Analyst en alternance",
			"description":  "Tableaux de bord et SQL.",
			"dateCreation": "2026-08-30T09:00:00Z",
			"entreprise":   map[string]any{"nom": "ACME"},
			"lieuTravail":  map[string]any{"libelle": "75 - Paris"},
			"salaire":      map[string]any{"libelle": "Selon profil"},
			"origineOffre": map[string]any{"urlOrigine": "https://candidat.francetravail.fr/offres/recherche/detail/FT-1"},
		},
		{
			"id":       "FT-2",
			"intitule": "Comptable apprenti",
		},
	})

	adapter := newTestFranceTravail(t, server.URL)
	topic := listing.Topic{Name: "Data Analyst", Keywords: []string{"data analyst"}, ROMECode: "M1403"}

	candidates, err := adapter.Search(context.Background(), topic, "Paris")
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	require.Equal(t, "Data Analyst en alternance", candidates[0].Title)
	require.Equal(t, "ACME", candidates[0].Company)
	require.Equal(t, "75 - Paris", candidates[0].Location)
	require.Equal(t, "FT-1", candidates[0].ExternalID)
	require.NotNil(t, candidates[0].PublishedAt)

	// missing origin URL falls back to the public offer page
	require.Equal(t, franceTravailOfferURL+"FT-2", candidates[1].URL)
	require.Nil(t, candidates[1].PublishedAt)
}

func TestFranceTravailReusesCachedToken(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	server := franceTravailServer(t, &tokenCalls, []map[string]any{})

	adapter := newTestFranceTravail(t, server.URL)
	topic := listing.Topic{Name: "Développeur"}

	_, err := adapter.Search(context.Background(), topic, "")
	require.NoError(t, err)
	_, err = adapter.Search(context.Background(), topic, "")
	require.NoError(t, err)
	require.Equal(t, int32(1), tokenCalls.Load())
}

func TestFranceTravailEmptyResultSet(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	server := franceTravailServer(t, &tokenCalls, nil)

	adapter := newTestFranceTravail(t, server.URL)

	candidates, err := adapter.Search(context.Background(), listing.Topic{Name: "Comptabilité"}, "")
	require.NoError(t, err)
	require.Empty(t, candidates)
}

func TestFranceTravailServerErrorIsAdapterError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/connexion/oauth2/access_token", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 1499})
	})
	mux.HandleFunc("/partenaire/offresdemploi/v2/offres/search", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	adapter := newTestFranceTravail(t, server.URL)

	_, err := adapter.Search(context.Background(), listing.Topic{Name: "RH"}, "")
	var adapterErr *listing.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, SourceFranceTravail, adapterErr.Source)
}

func TestFranceTravailRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewFranceTravail(config.Source{BaseURL: "https://api.example.com"}, Options{})
	require.Error(t, err)
}
