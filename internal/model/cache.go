package model

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/tensor"
)

const DefaultCacheExpiration = 30 * time.Minute

// CachedEncoder remembers embeddings by token ids. Encoders are
// deterministic, so a hit is the exact tensor a miss would produce.
type CachedEncoder struct {
	next  TextEncoder
	cache *cache.Cache
}

func NewCachedEncoder(next TextEncoder, expiration time.Duration) *CachedEncoder {
	return &CachedEncoder{
		next:  next,
		cache: cache.New(expiration, 2*expiration),
	}
}

func (c *CachedEncoder) Encode(ctx context.Context, ids []int32) (*tensor.Tensor, error) {
	key := cacheKey(ids)
	if v, ok := c.cache.Get(key); ok {
		return v.(*tensor.Tensor).Clone(), nil
	}

	t, err := c.next.Encode(ctx, ids)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, t.Clone())
	return t, nil
}

// Len is the number of embeddings currently held.
func (c *CachedEncoder) Len() int { return c.cache.ItemCount() }

func cacheKey(ids []int32) string {
	b := make([]byte, 4*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint32(b[4*i:], uint32(id))
	}
	return string(b)
}
