package uploadfiles

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nomad-coe/uploadfiles/access"
	"github.com/nomad-coe/uploadfiles/public"
)

// DefaultPoolSize is the default number of open Public Store handles a
// PublicPool keeps resident.
const DefaultPoolSize = 128

// PublicPool is a bounded cache of open Public Store handles, evicting
// the least-recently-used entry and closing its zip/archive file
// descriptors once the pool is full. Opening a Public Store parses two
// zip central directories and two archive footer indexes (public.Store's
// dirView); for uploads read repeatedly this is worth avoiding.
//
// A pool is constructed with one fixed alwaysRestricted rule and one
// fixed userAccess predicate for its entire lifetime, and every handle it
// hands out shares them. Predicates are documented (access.Predicate) as
// never safe to cache across calls with different authorization
// contexts, so a PublicPool must never be shared across callers with
// different access — it is scoped the way the teacher's
// RepositoryScoped blob descriptor cache is scoped to one repository:
// one long-lived, single-context caller (a background indexer or an
// admin tool), not a per-HTTP-request cache keyed across users.
type PublicPool struct {
	cfg              Config
	alwaysRestricted access.NamePredicate
	userAccess       access.Predicate
	cache            *lru.Cache[string, *public.Store]
}

// NewPublicPool builds a pool bounded to size entries (DefaultPoolSize if
// size <= 0).
func NewPublicPool(cfg Config, alwaysRestricted access.NamePredicate, userAccess access.Predicate, size int) (*PublicPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	p := &PublicPool{cfg: cfg, alwaysRestricted: alwaysRestricted, userAccess: userAccess}
	c, err := lru.NewWithEvict[string, *public.Store](size, func(_ string, s *public.Store) {
		_ = s.Close()
	})
	if err != nil {
		return nil, err
	}
	p.cache = c
	return p, nil
}

// Get returns the pooled handle for uploadID, opening and caching one if
// none is resident.
func (p *PublicPool) Get(uploadID string) (*public.Store, error) {
	if s, ok := p.cache.Get(uploadID); ok {
		return s, nil
	}
	s, err := public.New(p.cfg.PublicRoot, uploadID, p.cfg.PrefixSize, p.cfg.ArchiveVersion, p.alwaysRestricted, p.userAccess)
	if err != nil {
		return nil, err
	}
	p.cache.Add(uploadID, s)
	return s, nil
}

// Invalidate evicts and closes uploadID's cached handle, if any. Callers
// must invalidate after a Repack replaces an upload's public files out
// from under an already-open handle, since the Public Store's directory
// view is built once and never refreshed.
func (p *PublicPool) Invalidate(uploadID string) {
	p.cache.Remove(uploadID)
}

// Close evicts and closes every cached handle.
func (p *PublicPool) Close() {
	p.cache.Purge()
}
