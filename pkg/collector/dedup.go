package collector

// dedupCache remembers keys in insertion order so re-scanned history sources
// do not re-emit events. When the cache fills, the oldest half is evicted;
// the newest keys always survive.
type dedupCache struct {
	limit int
	order []string
	seen  map[string]struct{}
}

func newDedupCache(limit int) *dedupCache {
	if limit <= 0 {
		limit = 10000
	}
	return &dedupCache{
		limit: limit,
		seen:  make(map[string]struct{}, limit),
	}
}

// Seen reports whether key was already recorded, recording it if not.
func (d *dedupCache) Seen(key string) bool {
	if _, ok := d.seen[key]; ok {
		return true
	}
	if len(d.order) >= d.limit {
		drop := d.limit / 2
		for _, old := range d.order[:drop] {
			delete(d.seen, old)
		}
		d.order = append(d.order[:0], d.order[drop:]...)
	}
	d.seen[key] = struct{}{}
	d.order = append(d.order, key)
	return false
}

func (d *dedupCache) Len() int {
	return len(d.order)
}
