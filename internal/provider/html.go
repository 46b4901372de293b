package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"jobmate/listing-service/internal/model"
)

const (
	httpTimeout  = 15 * time.Second
	maxBodyBytes = 8 << 20
)

// Spec declares how to extract listings from a result page.
//
// Field selectors are evaluated relative to each container match. A selector
// ending in "@attr" reads that attribute instead of the text; a bare "@attr"
// reads it from the container itself.
type Spec struct {
	Container string
	Fields    map[string]string
	// NextPage optionally selects a link to one more result page. It reads
	// href unless the selector names another attribute with "@attr".
	NextPage string
	// Identity lists the fields hashed into the listing id.
	Identity []string
}

// HTMLProvider scrapes a listing page with CSS selectors.
type HTMLProvider struct {
	meta      Meta
	spec      Spec
	client    *http.Client
	prober    *Prober
	source    model.ProviderSelection
	blacklist []string
}

// NewHTML builds a selector-driven provider. prober may be nil, in which
// case every liveness probe is inconclusive.
func NewHTML(meta Meta, spec Spec, prober *Prober) *HTMLProvider {
	if len(spec.Identity) == 0 {
		spec.Identity = []string{"title", "price", "address"}
	}
	return &HTMLProvider{
		meta:   meta,
		spec:   spec,
		client: &http.Client{Timeout: httpTimeout},
		prober: prober,
	}
}

func (p *HTMLProvider) Meta() Meta { return p.meta }

func (p *HTMLProvider) Init(source model.ProviderSelection, blacklist []string) {
	p.source = source
	p.blacklist = blacklist
}

// Fetch reads the configured search page and, when the spec declares one,
// a single next page. Items from the first page are returned even if the
// second page fails.
func (p *HTMLProvider) Fetch(ctx context.Context) ([]model.RawItem, error) {
	if p.source.URL == "" {
		return nil, fmt.Errorf("provider %s: no search url", p.meta.ID)
	}

	doc, err := p.fetchDocument(ctx, p.source.URL)
	if err != nil {
		return nil, err
	}
	items := Extract(doc, p.spec)

	if p.spec.NextPage == "" {
		return items, nil
	}
	href := nextPageLink(doc, p.spec.NextPage)
	if href == "" {
		return items, nil
	}
	next, err := resolve(p.source.URL, href)
	if err != nil {
		return items, fmt.Errorf("next page: %w", err)
	}
	doc, err = p.fetchDocument(ctx, next)
	if err != nil {
		return items, fmt.Errorf("next page: %w", err)
	}
	return append(items, Extract(doc, p.spec)...), nil
}

func (p *HTMLProvider) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgents[0])
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d", p.meta.ID, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Extract applies spec to doc and returns one RawItem per container match.
// Containers whose fields are all empty are skipped.
func Extract(doc *goquery.Document, spec Spec) []model.RawItem {
	var items []model.RawItem
	doc.Find(spec.Container).Each(func(_ int, s *goquery.Selection) {
		item := make(model.RawItem, len(spec.Fields))
		empty := true
		for field, selector := range spec.Fields {
			v := extractField(s, selector)
			if v != "" {
				empty = false
			}
			item[field] = v
		}
		if !empty {
			items = append(items, item)
		}
	})
	return items
}

func nextPageLink(doc *goquery.Document, selector string) string {
	sel, attr, hasAttr := strings.Cut(selector, "@")
	attr = strings.TrimSpace(attr)
	if !hasAttr || attr == "" {
		attr = "href"
	}
	v, _ := doc.Find(strings.TrimSpace(sel)).First().Attr(attr)
	return strings.TrimSpace(v)
}

func extractField(s *goquery.Selection, selector string) string {
	sel, attr, hasAttr := strings.Cut(selector, "@")
	sel = strings.TrimSpace(sel)

	target := s
	if sel != "" {
		target = s.Find(sel).First()
	}
	if hasAttr {
		v, _ := target.Attr(strings.TrimSpace(attr))
		return strings.TrimSpace(v)
	}
	return collapse(target.Text())
}

// Normalize maps raw fields onto a Listing: whitespace cleanup, absolute
// links, and a deterministic id over the spec's identity fields.
func (p *HTMLProvider) Normalize(raw model.RawItem) (model.Listing, error) {
	l := model.Listing{
		Title:       collapse(raw["title"]),
		Price:       cleanPrice(raw["price"]),
		Size:        collapse(raw["size"]),
		Address:     collapse(raw["address"]),
		Description: collapse(raw["description"]),
		Image:       strings.TrimSpace(raw["image"]),
		ProviderID:  p.meta.ID,
		Liveness:    model.LivenessUnknown,
	}
	if l.Title == "" {
		return model.Listing{}, fmt.Errorf("listing without title")
	}

	if link := strings.TrimSpace(raw["link"]); link != "" {
		base := p.meta.BaseURL
		if base == "" {
			base = p.source.URL
		}
		abs, err := resolve(base, link)
		if err != nil {
			return model.Listing{}, fmt.Errorf("link %q: %w", link, err)
		}
		l.Link = abs
	}

	fields := make([]string, 0, len(p.spec.Identity))
	identified := false
	for _, f := range p.spec.Identity {
		var v string
		switch f {
		case "price":
			v = l.Price
		case "link":
			v = l.Link
		default:
			v = collapse(raw[f])
		}
		if v != "" {
			identified = true
		}
		fields = append(fields, v)
	}
	// Hashing nothing would give every such listing the same id.
	if !identified {
		return model.Listing{}, fmt.Errorf("listing %q has no identity fields %v", l.Title, p.spec.Identity)
	}
	l.ID = HashID(p.meta.ID, fields...)
	return l, nil
}

func (p *HTMLProvider) Filter(l model.Listing) bool {
	return KeepListing(l.Title, l.Description, p.blacklist)
}

func (p *HTMLProvider) ProbeLiveness(ctx context.Context, link string) Signal {
	if p.prober == nil {
		return SignalInconclusive
	}
	return p.prober.Probe(ctx, link)
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanPrice keeps digits, separators and the currency sign of a scraped price.
func cleanPrice(s string) string {
	s = collapse(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == ' ', r == '€', r == '$', r == '£':
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
