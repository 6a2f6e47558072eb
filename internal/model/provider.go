package model

import (
	"context"
	"encoding/json"
)

// LookupQuery identifies one person to the lookup provider, either by
// canonical profile URL or by name and company.
type LookupQuery struct {
	ProfileURL string
	Name       string
	Company    string
}

// LookupResult is a lookup provider answer. Found is false for a clean
// "no match", which is not an error.
type LookupResult struct {
	Found      bool
	Likelihood int
	Data       json.RawMessage // provider person object, normalized at ingest
}

// LookupProvider enriches a single profile synchronously.
type LookupProvider interface {
	Lookup(ctx context.Context, q LookupQuery) (LookupResult, error)
}

// ScrapeSubmitter submits a batch of profile URLs for asynchronous deep
// scraping and returns the provider snapshot id. Results arrive later by delivery.
type ScrapeSubmitter interface {
	Submit(ctx context.Context, urls []string) (string, error)
}
