package provider

// Selector sets for the built-in HTML sources. Sites change their markup
// without notice; when a source starts returning zero items, its selectors
// are the first thing to check.
var htmlCatalog = []struct {
	meta Meta
	spec Spec
}{
	{
		meta: Meta{ID: "kleinanzeigen", Name: "Kleinanzeigen", BaseURL: "https://www.kleinanzeigen.de"},
		spec: Spec{
			Container: "#srchrslt-adtable .ad-listitem article.aditem",
			Fields: map[string]string{
				"id":          "@data-adid",
				"title":       ".aditem-main .text-module-begin a",
				"price":       ".aditem-main--middle--price-shipping--price",
				"size":        ".aditem-main .text-module-end span:first-child",
				"address":     ".aditem-main--top--left",
				"description": ".aditem-main--middle--description",
				"link":        ".aditem-main .text-module-begin a@href",
				"image":       ".imagebox img@src",
			},
			NextPage: ".pagination-next@href",
			Identity: []string{"id"},
		},
	},
	{
		meta: Meta{ID: "wggesucht", Name: "WG-Gesucht", BaseURL: "https://www.wg-gesucht.de"},
		spec: Spec{
			Container: "#main_column .wgg_card.offer_list_item",
			Fields: map[string]string{
				"id":          "@data-id",
				"title":       ".truncate_title a",
				"price":       ".middle .col-xs-3 b",
				"size":        ".middle .text-right b",
				"address":     ".col-xs-11 span",
				"description": ".truncate_title a@title",
				"link":        ".truncate_title a@href",
				"image":       ".card_image img@src",
			},
			NextPage: "a.page-link.next@href",
			Identity: []string{"id"},
		},
	},
}

// RegisterBuiltins adds every built-in source to reg. The Adzuna source is
// always registered; it returns nothing until credentials are configured.
func RegisterBuiltins(reg *Registry, prober *Prober, adzunaAppID, adzunaAppKey, adzunaCountry string) {
	for _, entry := range htmlCatalog {
		reg.Register(func() Provider { return NewHTML(entry.meta, entry.spec, prober) })
	}
	reg.Register(func() Provider { return NewAdzuna(adzunaAppID, adzunaAppKey, adzunaCountry, prober) })
}
