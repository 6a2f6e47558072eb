package provider

import (
	"net/http"

	"github.com/amishk599/leadflow/internal/config"
	"github.com/amishk599/leadflow/internal/model"
)

// Registry hands out provider clients per organization. Credentials are
// resolved from config once, when the registry is built.
type Registry struct {
	deepScrape map[int64]*DeepScrapeClient
	lookup     map[int64]*LookupClient
	wrapLookup func(model.LookupProvider) model.LookupProvider
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLookupDecorator wraps every lookup client handed out, e.g. with retry and pacing.
func WithLookupDecorator(wrap func(model.LookupProvider) model.LookupProvider) RegistryOption {
	return func(r *Registry) { r.wrapLookup = wrap }
}

// NewRegistry builds clients for every configured organization.
func NewRegistry(cfg *config.Config, httpClient *http.Client, opts ...RegistryOption) *Registry {
	r := &Registry{
		deepScrape: make(map[int64]*DeepScrapeClient, len(cfg.Organizations)),
		lookup:     make(map[int64]*LookupClient, len(cfg.Organizations)),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, org := range cfg.Organizations {
		r.deepScrape[org.ID] = NewDeepScrapeClient(org.Providers.DeepScrape, httpClient)
		r.lookup[org.ID] = NewLookupClient(org.Providers.Lookup.BaseURL, org.Providers.Lookup.APIKey, httpClient)
	}
	return r
}

// DeepScrape returns the organization's deep-scrape client if it is configured.
func (r *Registry) DeepScrape(orgID int64) (model.ScrapeSubmitter, bool) {
	c, ok := r.deepScrape[orgID]
	if !ok || !c.Configured() {
		return nil, false
	}
	return c, true
}

// Lookup returns the organization's lookup client if it is configured.
func (r *Registry) Lookup(orgID int64) (model.LookupProvider, bool) {
	c, ok := r.lookup[orgID]
	if !ok || !c.Configured() {
		return nil, false
	}
	if r.wrapLookup != nil {
		return r.wrapLookup(c), true
	}
	return c, true
}
