package provider_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/listing-service/internal/model"
	"jobmate/listing-service/internal/provider"
)

const page1 = `<html><body>
<ul>
  <li class="result" data-id="1">
    <a class="title" href="/expose/1">  Sunny   flat </a>
    <span class="price">1.200 € kalt</span>
    <span class="addr">Main St 1</span>
    <img src="https://img.example/1.jpg">
  </li>
  <li class="result" data-id="2">
    <a class="title" href="/expose/2">WG room</a>
    <span class="price">450 €</span>
    <span class="addr">Side St 2</span>
  </li>
  <li class="result"></li>
</ul>
<a class="next" href="/search?page=2">next</a>
</body></html>`

const page2 = `<html><body>
<ul>
  <li class="result" data-id="3">
    <a class="title" href="/expose/3">Loft</a>
    <span class="price">2.000 €</span>
    <span class="addr">Harbour 3</span>
  </li>
</ul>
<a class="next" href="/search?page=3">next</a>
</body></html>`

var testSpec = provider.Spec{
	Container: "li.result",
	Fields: map[string]string{
		"id":      "@data-id",
		"title":   "a.title",
		"link":    "a.title@href",
		"price":   ".price",
		"address": ".addr",
		"image":   "img@src",
	},
	NextPage: "a.next",
	Identity: []string{"id"},
}

func newPagedServer(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		switch r.URL.Query().Get("page") {
		case "", "1":
			fmt.Fprint(w, page1)
		case "2":
			fmt.Fprint(w, page2)
		default:
			t.Errorf("fetched beyond one pagination hop: %s", r.URL)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestHTMLProvider_FetchFollowsOneNextPage(t *testing.T) {
	srv, hits := newPagedServer(t)

	p := provider.NewHTML(provider.Meta{ID: "immo", Name: "Immo", BaseURL: srv.URL}, testSpec, nil)
	p.Init(model.ProviderSelection{ID: "immo", URL: srv.URL + "/search"}, nil)

	items, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, 2, *hits)

	assert.Equal(t, "1", items[0]["id"])
	assert.Equal(t, "Sunny flat", items[0]["title"])
	assert.Equal(t, "/expose/1", items[0]["link"])
	assert.Equal(t, "https://img.example/1.jpg", items[0]["image"])
	assert.Equal(t, "Loft", items[2]["title"])
}

func TestHTMLProvider_FetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := provider.NewHTML(provider.Meta{ID: "immo"}, testSpec, nil)
	p.Init(model.ProviderSelection{URL: srv.URL}, nil)

	items, err := p.Fetch(context.Background())
	assert.Error(t, err)
	assert.Empty(t, items)
}

func TestHTMLProvider_Normalize(t *testing.T) {
	p := provider.NewHTML(provider.Meta{ID: "immo", BaseURL: "https://immo.example"}, testSpec, nil)
	p.Init(model.ProviderSelection{URL: "https://immo.example/search"}, nil)

	raw := model.RawItem{
		"id":      "1",
		"title":   " Sunny  flat ",
		"link":    "/expose/1",
		"price":   "1.200 € kalt",
		"address": "Main St 1",
	}
	l, err := p.Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, "Sunny flat", l.Title)
	assert.Equal(t, "1.200 €", l.Price)
	assert.Equal(t, "https://immo.example/expose/1", l.Link)
	assert.Equal(t, "immo", l.ProviderID)
	assert.Equal(t, model.LivenessUnknown, l.Liveness)
	assert.Equal(t, provider.HashID("immo", "1"), l.ID)

	again, err := p.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, l.ID, again.ID)

	raw["id"] = "2"
	changed, err := p.Normalize(raw)
	require.NoError(t, err)
	assert.NotEqual(t, l.ID, changed.ID)
}

func TestHTMLProvider_NormalizeRequiresTitle(t *testing.T) {
	p := provider.NewHTML(provider.Meta{ID: "immo"}, testSpec, nil)

	_, err := p.Normalize(model.RawItem{"price": "100"})
	assert.Error(t, err)
}

func TestHTMLProvider_Filter(t *testing.T) {
	p := provider.NewHTML(provider.Meta{ID: "immo"}, testSpec, nil)
	p.Init(model.ProviderSelection{}, []string{"wg"})

	assert.False(t, p.Filter(model.Listing{Title: "WG room"}))
	assert.True(t, p.Filter(model.Listing{Title: "Loft"}))
}

func TestRegistry(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(func() provider.Provider {
		return provider.NewHTML(provider.Meta{ID: "immo"}, testSpec, nil)
	})

	a, err := reg.New("immo")
	require.NoError(t, err)
	b, err := reg.New("immo")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, []string{"immo"}, reg.IDs())

	_, err = reg.New("missing")
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestRegisterBuiltins(t *testing.T) {
	reg := provider.NewRegistry()
	provider.RegisterBuiltins(reg, nil, "", "", "fr")

	assert.Equal(t, []string{"adzuna", "kleinanzeigen", "wggesucht"}, reg.IDs())

	p, err := reg.New("kleinanzeigen")
	require.NoError(t, err)
	_, probes := p.(provider.LivenessProber)
	assert.True(t, probes)

	l, err := p.Normalize(model.RawItem{"id": "123", "title": " Altbau  2 Zimmer ", "link": "/s-anzeige/123"})
	require.NoError(t, err)
	assert.Equal(t, "Altbau 2 Zimmer", l.Title)
	assert.Equal(t, "https://www.kleinanzeigen.de/s-anzeige/123", l.Link)
	assert.Equal(t, provider.HashID("kleinanzeigen", "123"), l.ID)
}

func kleinanzeigenPage(adID, title, next string) string {
	nav := ""
	if next != "" {
		nav = `<div class="pagination"><a class="pagination-next" href="` + next + `">Nächste</a></div>`
	}
	return `<html><body>
<ul id="srchrslt-adtable">
  <li class="ad-listitem">
    <article class="aditem" data-adid="` + adID + `">
      <div class="aditem-main">
        <div class="aditem-main--top--left">10115 Mitte</div>
        <div class="text-module-begin"><a href="/s-anzeige/` + adID + `">` + title + `</a></div>
        <p class="aditem-main--middle--price-shipping--price">900 €</p>
      </div>
    </article>
  </li>
</ul>` + nav + `
</body></html>`
}

func TestRegisterBuiltins_FollowsCatalogNextPage(t *testing.T) {
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.RequestURI())
		switch r.URL.Query().Get("page") {
		case "":
			fmt.Fprint(w, kleinanzeigenPage("101", "Altbau Mitte", "/s-wohnung?page=2"))
		case "2":
			fmt.Fprint(w, kleinanzeigenPage("102", "Dachgeschoss", "/s-wohnung?page=3"))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	reg := provider.NewRegistry()
	provider.RegisterBuiltins(reg, nil, "", "", "de")
	p, err := reg.New("kleinanzeigen")
	require.NoError(t, err)
	p.Init(model.ProviderSelection{ID: "kleinanzeigen", URL: srv.URL + "/s-wohnung"}, nil)

	items, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/s-wohnung", "/s-wohnung?page=2"}, requested)
	require.Len(t, items, 2)
	assert.Equal(t, "101", items[0]["id"])
	assert.Equal(t, "Dachgeschoss", items[1]["title"])
}

func TestHTMLProvider_NextPageAttribute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, page2)
			return
		}
		fmt.Fprint(w, `<html><body><ul><li class="result" data-id="1"><a class="title" href="/expose/1">Flat</a></li></ul>
<span class="nav" data-next="/search?page=2">more</span></body></html>`)
	}))
	defer srv.Close()

	spec := testSpec
	spec.NextPage = "span.nav@data-next"
	p := provider.NewHTML(provider.Meta{ID: "immo"}, spec, nil)
	p.Init(model.ProviderSelection{URL: srv.URL + "/search"}, nil)

	items, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Loft", items[1]["title"])
}

func TestHTMLProvider_NormalizeRejectsEmptyIdentity(t *testing.T) {
	p := provider.NewHTML(provider.Meta{ID: "immo"}, testSpec, nil)

	_, err := p.Normalize(model.RawItem{"id": "", "title": "Sunny flat"})
	assert.Error(t, err)
	_, err = p.Normalize(model.RawItem{"id": "  ", "title": "Dark basement"})
	assert.Error(t, err)

	// Partially empty identities still hash.
	multi := provider.NewHTML(provider.Meta{ID: "immo"}, provider.Spec{Identity: []string{"id", "link"}}, nil)
	a, err := multi.Normalize(model.RawItem{"title": "Sunny flat", "link": "https://immo.example/a"})
	require.NoError(t, err)
	b, err := multi.Normalize(model.RawItem{"title": "Dark basement", "link": "https://immo.example/b"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}
