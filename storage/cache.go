package storage

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/openfreight/freightsim/core/orderbook"
)

// OrderCache fronts order reads from pebble. The matching loop reloads
// the resting order on every tranche, so the hot set is whatever is
// near the top of the active books.
type OrderCache struct {
	cache *lru.Cache // orderID -> *orderbook.Order
}

func NewOrderCache(size int) (*OrderCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &OrderCache{cache: c}, nil
}

func (c *OrderCache) Get(orderID string) (*orderbook.Order, bool) {
	o, ok := c.cache.Get(orderID)
	if !ok {
		return nil, false
	}
	return o.(*orderbook.Order), true
}

func (c *OrderCache) Set(orderID string, o *orderbook.Order) {
	c.cache.Add(orderID, o)
}

func (c *OrderCache) Remove(orderID string) {
	c.cache.Remove(orderID)
}

func (c *OrderCache) Purge() {
	c.cache.Purge()
}
