package erp

import (
	"context"
	"fmt"
	"time"

	"github.com/remitmatch/cashapp-agent/cashapperr"
	"github.com/bsm/redislock"
)

// Facade is the registry of Adapter variants keyed by erp_system. It owns
// the cross-cutting concerns (locking, pooling, caching, retry) so each
// adapter only needs to speak its vendor's wire protocol.
type Facade struct {
	adapters map[string]Adapter
	locks    *CustomerLock
	pools    *ConnectionPools
	cache    *InvoiceCache
	retry    RetryConfig
}

func NewFacade(locker *redislock.Client, defaultPoolWeight int64, cacheTTLSeconds int) (*Facade, error) {
	cache, err := NewInvoiceCache(4096, time.Duration(cacheTTLSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	return &Facade{
		adapters: make(map[string]Adapter),
		locks:    NewCustomerLock(locker),
		pools:    NewConnectionPools(defaultPoolWeight),
		cache:    cache,
		retry:    DefaultRetryConfig(),
	}, nil
}

func (f *Facade) Register(adapter Adapter) {
	f.adapters[adapter.ERPSystem()] = adapter
}

func (f *Facade) adapterFor(erpSystem string) (Adapter, error) {
	a, ok := f.adapters[erpSystem]
	if !ok {
		return nil, cashapperr.New(cashapperr.KindValidation, fmt.Sprintf("unknown erp_system %q", erpSystem))
	}
	return a, nil
}

// FetchInvoices consults the cache first, then the adapter for misses,
// retried per the shared policy for transient errors.
func (f *Facade) FetchInvoices(ctx context.Context, invoiceIds []string, erpSystem, customerId string) ([]Invoice, []string, error) {
	adapter, err := f.adapterFor(erpSystem)
	if err != nil {
		return nil, nil, err
	}

	var cached []Invoice
	var toFetch []string
	for _, id := range invoiceIds {
		if inv, ok := f.cache.Get(id, erpSystem); ok {
			cached = append(cached, inv)
		} else {
			toFetch = append(toFetch, id)
		}
	}
	if len(toFetch) == 0 {
		return cached, nil, nil
	}

	release, err := f.pools.Acquire(ctx, erpSystem)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	var found []Invoice
	var notFound []string
	err = Do(ctx, f.retry, func(ctx context.Context) error {
		f2, nf2, ferr := adapter.FetchInvoices(ctx, toFetch, customerId)
		if ferr != nil {
			return ferr
		}
		found, notFound = f2, nf2
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	for _, inv := range found {
		f.cache.Put(inv)
	}
	return append(cached, found...), notFound, nil
}

// PostApplication serializes per customer_id, retries transient errors, and
// relies on the adapter to detect/return a prior posting by TransactionId
// when the underlying ERP cannot take an idempotency key directly.
func (f *Facade) PostApplication(ctx context.Context, app Application) (PostResult, error) {
	adapter, err := f.adapterFor(app.ERPSystem)
	if err != nil {
		return PostResult{}, err
	}

	unlock, err := f.locks.Acquire(ctx, app.ERPSystem, app.CustomerId)
	if err != nil {
		return PostResult{}, cashapperr.Wrap(cashapperr.KindConcurrencyConflict, "could not acquire customer posting lock", err)
	}
	defer unlock()

	release, err := f.pools.Acquire(ctx, app.ERPSystem)
	if err != nil {
		return PostResult{}, err
	}
	defer release()

	var result PostResult
	err = Do(ctx, f.retry, func(ctx context.Context) error {
		r, perr := adapter.PostApplication(ctx, app)
		if perr != nil {
			return perr
		}
		result = r
		return nil
	})
	return result, err
}

func (f *Facade) TestConnection(ctx context.Context, erpSystem string) (ConnectionStatus, error) {
	adapter, err := f.adapterFor(erpSystem)
	if err != nil {
		return ConnectionStatus{}, err
	}
	return adapter.TestConnection(ctx)
}
