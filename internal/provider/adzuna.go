package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"jobmate/listing-service/internal/model"
)

const (
	AdzunaID = "adzuna"

	adzunaBaseURL  = "https://api.adzuna.com/v1/api/jobs"
	adzunaPageSize = 50
	adzunaMaxPages = 2 // one result page plus one pagination hop
)

// AdzunaProvider fetches offers from the Adzuna public API.
// If AppID or AppKey is empty, Fetch returns (nil, nil) so the job simply
// gets zero items from this source.
//
// The job's search URL carries the query as "what" and "where" parameters,
// e.g. "https://www.adzuna.fr/search?what=golang&where=paris".
type AdzunaProvider struct {
	AppID   string
	AppKey  string
	Country string // "fr", "gb", "us", …
	// Endpoint overrides the API root, for tests.
	Endpoint string

	client    *http.Client
	prober    *Prober
	source    model.ProviderSelection
	blacklist []string
}

// NewAdzuna constructs the provider with its own HTTP client.
func NewAdzuna(appID, appKey, country string, prober *Prober) *AdzunaProvider {
	return &AdzunaProvider{
		AppID:    appID,
		AppKey:   appKey,
		Country:  country,
		Endpoint: adzunaBaseURL,
		client:   &http.Client{Timeout: httpTimeout},
		prober:   prober,
	}
}

func (a *AdzunaProvider) Meta() Meta {
	return Meta{ID: AdzunaID, Name: "Adzuna", BaseURL: "https://www.adzuna.com"}
}

func (a *AdzunaProvider) Init(source model.ProviderSelection, blacklist []string) {
	a.source = source
	a.blacklist = blacklist
}

// adzunaResponse mirrors the top-level Adzuna JSON response.
type adzunaResponse struct {
	Results []adzunaResult `json:"results"`
	Count   int            `json:"count"`
}

// adzunaResult mirrors a single Adzuna offer.
type adzunaResult struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Company     adzunaName `json:"company"`
	Location    adzunaName `json:"location"`
	SalaryMin   float64    `json:"salary_min"`
	SalaryMax   float64    `json:"salary_max"`
	RedirectURL string     `json:"redirect_url"`
	Created     string     `json:"created"`
}

type adzunaName struct {
	DisplayName string `json:"display_name"`
}

// Fetch retrieves up to adzunaMaxPages pages for the job's query.
func (a *AdzunaProvider) Fetch(ctx context.Context) ([]model.RawItem, error) {
	if a.AppID == "" || a.AppKey == "" {
		return nil, nil
	}

	what, where, err := adzunaQuery(a.source.URL)
	if err != nil {
		return nil, err
	}

	var items []model.RawItem
	for page := 1; page <= adzunaMaxPages; page++ {
		batch, err := a.fetchPage(ctx, what, where, page)
		if err != nil {
			return items, fmt.Errorf("page %d: %w", page, err)
		}
		items = append(items, batch...)
		if len(batch) < adzunaPageSize {
			break // last page
		}
	}
	return items, nil
}

func adzunaQuery(raw string) (what, where string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("adzuna search url: %w", err)
	}
	q := u.Query()
	what = q.Get("what")
	if what == "" {
		return "", "", fmt.Errorf("adzuna search url %q has no \"what\" parameter", raw)
	}
	return what, q.Get("where"), nil
}

func (a *AdzunaProvider) fetchPage(ctx context.Context, what, where string, page int) ([]model.RawItem, error) {
	endpoint := fmt.Sprintf("%s/%s/search/%d", a.Endpoint, a.Country, page)

	params := url.Values{}
	params.Set("app_id", a.AppID)
	params.Set("app_key", a.AppKey)
	params.Set("results_per_page", strconv.Itoa(adzunaPageSize))
	params.Set("what", what)
	if where != "" {
		params.Set("where", where)
	}
	params.Set("content-type", "application/json")
	params.Set("sort_by", "date")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("adzuna returned %d: %s", resp.StatusCode, string(body))
	}

	var apiResp adzunaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}

	items := make([]model.RawItem, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		items = append(items, model.RawItem{
			"id":          r.ID,
			"title":       r.Title,
			"company":     r.Company.DisplayName,
			"address":     r.Location.DisplayName,
			"description": r.Description,
			"price":       salaryRange(r.SalaryMin, r.SalaryMax),
			"link":        r.RedirectURL,
			"created":     r.Created,
		})
	}
	return items, nil
}

func salaryRange(lo, hi float64) string {
	switch {
	case lo > 0 && hi > 0 && hi != lo:
		return fmt.Sprintf("%.0f-%.0f", lo, hi)
	case lo > 0:
		return fmt.Sprintf("%.0f", lo)
	case hi > 0:
		return fmt.Sprintf("%.0f", hi)
	default:
		return ""
	}
}

// Normalize keys the listing on the Adzuna offer id.
func (a *AdzunaProvider) Normalize(raw model.RawItem) (model.Listing, error) {
	externalID := strings.TrimSpace(raw["id"])
	if externalID == "" {
		return model.Listing{}, fmt.Errorf("adzuna offer without id")
	}
	title := collapse(raw["title"])
	if company := collapse(raw["company"]); company != "" {
		title += " @ " + company
	}
	return model.Listing{
		ID:          HashID(AdzunaID, externalID),
		Title:       title,
		Price:       raw["price"],
		Address:     collapse(raw["address"]),
		Description: collapse(raw["description"]),
		Link:        strings.TrimSpace(raw["link"]),
		ProviderID:  AdzunaID,
		Liveness:    model.LivenessUnknown,
	}, nil
}

func (a *AdzunaProvider) Filter(l model.Listing) bool {
	return KeepListing(l.Title, l.Description, a.blacklist)
}

func (a *AdzunaProvider) ProbeLiveness(ctx context.Context, link string) Signal {
	if a.prober == nil {
		return SignalInconclusive
	}
	return a.prober.Probe(ctx, link)
}
