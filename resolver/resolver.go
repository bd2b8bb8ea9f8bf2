// Package resolver resolves addresses against a DNSBL and records the
// outcome, one address at a time or in bounded parallel batches.
package resolver

import (
	"context"
	"fmt"

	logging "github.com/ipfs/go-log/v2"

	"github.com/ipshipyard/dnsbl-cache/ipparser"
	"github.com/ipshipyard/dnsbl-cache/store"
)

var log = logging.Logger("dnsbl/resolver")

// DefaultZone is the blocklist queried when none is configured.
const DefaultZone = "zen.spamhaus.org"

// Lookuper returns the codes a DNSBL answers for a query name.
type Lookuper interface {
	Lookup(ctx context.Context, name string) ([]string, error)
}

// Cache is the persistence needed by a Resolver.
type Cache interface {
	Intern(ctx context.Context, text string) (store.ResultCode, error)
	Upsert(ctx context.Context, addr string, codes []store.ResultCode) (store.Record, error)
}

// Resolver looks up one address and stores the result.
type Resolver struct {
	zone   string
	client Lookuper
	cache  Cache
}

// New returns a Resolver querying zone through client and writing to cache.
func New(zone string, client Lookuper, cache Cache) *Resolver {
	if zone == "" {
		zone = DefaultZone
	}
	return &Resolver{zone: zone, client: client, cache: cache}
}

// Zone returns the blocklist zone being queried.
func (r *Resolver) Zone() string { return r.zone }

// Resolve validates raw, queries the blocklist and replaces the cached record
// of raw with the answer. A malformed address fails before any query, and a
// failed query leaves the cache untouched.
//
// Once the query has succeeded the cache write is not interrupted by ctx, so
// a finished lookup is always stored completely.
func (r *Resolver) Resolve(ctx context.Context, raw string) (store.Record, error) {
	name, err := ipparser.Encode(raw, r.zone)
	if err != nil {
		resolveCount.WithLabelValues("format_error").Inc()
		return store.Record{}, err
	}

	texts, err := r.client.Lookup(ctx, name)
	if err != nil {
		resolveCount.WithLabelValues("lookup_error").Inc()
		return store.Record{}, err
	}

	wctx := context.WithoutCancel(ctx)
	codes := make([]store.ResultCode, 0, len(texts))
	for _, text := range texts {
		rc, err := r.cache.Intern(wctx, text)
		if err != nil {
			resolveCount.WithLabelValues("store_error").Inc()
			return store.Record{}, fmt.Errorf("interning %q for %s: %w", text, raw, err)
		}
		codes = append(codes, rc)
	}

	rec, err := r.cache.Upsert(wctx, raw, codes)
	if err != nil {
		resolveCount.WithLabelValues("store_error").Inc()
		return store.Record{}, fmt.Errorf("storing record for %s: %w", raw, err)
	}

	if rec.Listed() {
		resolveCount.WithLabelValues("listed").Inc()
		log.Debugf("%s listed in %s: %v", raw, r.zone, rec.Codes)
	} else {
		resolveCount.WithLabelValues("clean").Inc()
	}
	return rec, nil
}
