package communicator

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// recipientLimiters holds one token-bucket per recipient, held in an
// LRU-backed map so idle recipients' limiters are reclaimed rather than
// accumulating forever.
type recipientLimiters struct {
	mu         sync.Mutex
	cache      *lru.Cache[string, *rate.Limiter]
	perMinute  int
}

func newRecipientLimiters(capacity, perMinute int) *recipientLimiters {
	if perMinute <= 0 {
		perMinute = 10
	}
	cache, _ := lru.New[string, *rate.Limiter](capacity)
	return &recipientLimiters{cache: cache, perMinute: perMinute}
}

func (r *recipientLimiters) limiterFor(recipient string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.cache.Get(recipient); ok {
		return l
	}
	every := time.Minute / time.Duration(r.perMinute)
	l := rate.NewLimiter(rate.Every(every), r.perMinute)
	r.cache.Add(recipient, l)
	return l
}

func (r *recipientLimiters) Allow(recipient string) bool {
	return r.limiterFor(recipient).Allow()
}
