package erp

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry struct {
	invoice   Invoice
	fetchedAt time.Time
}

// InvoiceCache is a short-term advisory snapshot cache keyed by
// (invoice_id, erp_system). The ERP remains system of record; one cache is
// shared by every call through the facade, and an entry is served until it
// is older than ttl (no expiry when ttl is 0) or evicted by the LRU bound.
type InvoiceCache struct {
	cache *lru.Cache[string, cacheEntry]
	ttl   time.Duration
}

func NewInvoiceCache(size int, ttl time.Duration) (*InvoiceCache, error) {
	if size <= 0 {
		size = 2048
	}
	c, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &InvoiceCache{cache: c, ttl: ttl}, nil
}

func cacheKey(invoiceId, erpSystem string) string {
	return fmt.Sprintf("%s|%s", erpSystem, invoiceId)
}

func (c *InvoiceCache) Get(invoiceId, erpSystem string) (Invoice, bool) {
	entry, ok := c.cache.Get(cacheKey(invoiceId, erpSystem))
	if !ok {
		return Invoice{}, false
	}
	if c.ttl > 0 && time.Since(entry.fetchedAt) > c.ttl {
		c.cache.Remove(cacheKey(invoiceId, erpSystem))
		return Invoice{}, false
	}
	return entry.invoice, true
}

func (c *InvoiceCache) Put(inv Invoice) {
	c.cache.Add(cacheKey(inv.InvoiceId, inv.ERPSystem), cacheEntry{invoice: inv, fetchedAt: time.Now()})
}
