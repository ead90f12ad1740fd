package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ihabontop/jobwatch/internal/config"
	"github.com/ihabontop/jobwatch/internal/listing"
)

// SourceFranceTravail is the registry name of the France Travail API adapter.
const SourceFranceTravail = "francetravail"

const (
	franceTravailDefaultBaseURL = "https://api.francetravail.io"
	franceTravailTokenPath      = "/connexion/oauth2/access_token?realm=%2Fpartenaire"
	franceTravailSearchPath     = "/partenaire/offresdemploi/v2/offres/search"
	franceTravailScope          = "api_offresdemploiv2 o2dsoffre"
	franceTravailOfferURL       = "https://candidat.francetravail.fr/offres/recherche/detail/"

	// apprenticeship and professionalisation contracts
	franceTravailContractNatures = "E2,FS"

	tokenExpirySlack = 30 * time.Second
)

// FranceTravail queries the France Travail offres d'emploi API using
// OAuth2 client credentials. The access token is cached until shortly
// before expiry.
type FranceTravail struct {
	baseURL      string
	clientID     string
	clientSecret string
	client       *http.Client
	logger       *zap.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewFranceTravail builds the API adapter. Client credentials are required.
func NewFranceTravail(cfg config.Source, opts Options) (listing.Adapter, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("francetravail client_id and client_secret are required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = franceTravailDefaultBaseURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FranceTravail{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		client:       &http.Client{Timeout: 20 * time.Second},
		logger:       logger.With(zap.String("source", SourceFranceTravail)),
	}, nil
}

// Name implements listing.Adapter.
func (f *FranceTravail) Name() string { return SourceFranceTravail }

// Close implements listing.Adapter.
func (f *FranceTravail) Close() {}

// Search queries the offer API for the topic's search terms.
func (f *FranceTravail) Search(ctx context.Context, topic listing.Topic, location string) ([]listing.Candidate, error) {
	token, err := f.accessToken(ctx)
	if err != nil {
		return nil, &listing.AdapterError{Source: SourceFranceTravail, Err: err}
	}

	params := url.Values{}
	terms := topic.Terms()
	if location != "" {
		terms = append(append([]string(nil), terms...), location)
	}
	params.Set("motsCles", strings.Join(terms, ","))
	params.Set("natureContrat", franceTravailContractNatures)
	params.Set("range", "0-49")
	if topic.ROMECode != "" {
		params.Set("codeROME", topic.ROMECode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+franceTravailSearchPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &listing.AdapterError{Source: SourceFranceTravail, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &listing.AdapterError{Source: SourceFranceTravail, Err: err}
	}
	defer resp.Body.Close()

	// 204 means the search matched nothing, 206 is a partial range
	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusUnauthorized:
		f.invalidateToken()
		return nil, &listing.AdapterError{
			Source: SourceFranceTravail,
			Err:    fmt.Errorf("search rejected with status %d", resp.StatusCode),
		}
	default:
		return nil, &listing.AdapterError{
			Source: SourceFranceTravail,
			Err:    fmt.Errorf("search returned status %d", resp.StatusCode),
		}
	}

	var payload struct {
		Resultats []franceTravailOffer `json:"resultats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &listing.AdapterError{Source: SourceFranceTravail, Err: fmt.Errorf("decode search response: %w", err)}
	}

	candidates := make([]listing.Candidate, 0, len(payload.Resultats))
	for _, offer := range payload.Resultats {
		candidates = append(candidates, offer.toCandidate())
	}
	f.logger.Debug("search finished",
		zap.String("topic", topic.Name),
		zap.Int("offers", len(candidates)),
	)
	return candidates, nil
}

type franceTravailOffer struct {
	ID           string     `json:"id"`
	Intitule     string     `json:"intitule"`
	Description  string     `json:"description"`
	DateCreation *time.Time `json:"dateCreation"`
	Entreprise   struct {
		Nom string `json:"nom"`
	} `json:"entreprise"`
	LieuTravail struct {
		Libelle string `json:"libelle"`
	} `json:"lieuTravail"`
	Salaire struct {
		Libelle string `json:"libelle"`
	} `json:"salaire"`
	OrigineOffre struct {
		URLOrigine string `json:"urlOrigine"`
	} `json:"origineOffre"`
}

func (o franceTravailOffer) toCandidate() listing.Candidate {
	offerURL := o.OrigineOffre.URLOrigine
	if offerURL == "" && o.ID != "" {
		offerURL = franceTravailOfferURL + o.ID
	}
	return listing.Candidate{
		Title:       o.Intitule,
		Company:     o.Entreprise.Nom,
		Description: o.Description,
		Location:    o.LieuTravail.Libelle,
		Salary:      o.Salaire.Libelle,
		URL:         offerURL,
		ExternalID:  o.ID,
		PublishedAt: o.DateCreation,
	}
}

func (f *FranceTravail) accessToken(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.token != "" && time.Now().Before(f.tokenExpiry.Add(-tokenExpirySlack)) {
		return f.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", f.clientID)
	form.Set("client_secret", f.clientSecret)
	form.Set("scope", franceTravailScope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+franceTravailTokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned an empty access token")
	}

	f.token = payload.AccessToken
	f.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	f.logger.Debug("refreshed access token", zap.Int("expires_in", payload.ExpiresIn))
	return f.token, nil
}

func (f *FranceTravail) invalidateToken() {
	f.mu.Lock()
	f.token = ""
	f.mu.Unlock()
}
