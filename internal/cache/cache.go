// Package cache provides the fixed-capacity, expiring LRU shared by
// components that memoise per-user reads.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is the read-through surface services depend on.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Invalidate(key K)
}

// LRU evicts the least recently used entry once size is reached and drops
// entries older than ttl.
type LRU[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

func NewLRU[K comparable, V any](size int, ttl time.Duration) *LRU[K, V] {
	return &LRU[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl)}
}

func (c *LRU[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

func (c *LRU[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

func (c *LRU[K, V]) Invalidate(key K) {
	c.lru.Remove(key)
}

func (c *LRU[K, V]) Len() int {
	return c.lru.Len()
}
