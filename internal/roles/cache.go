package roles

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CodeReader resolves roles by code.
type CodeReader interface {
	GetByCode(ctx context.Context, code string) (Role, error)
}

// Catalog is a read-through LRU in front of GetByCode. Role codes and tiers
// are immutable and roles are never deleted, so entries never go stale.
type Catalog struct {
	reader CodeReader
	cache  *lru.Cache[string, Role]
}

// NewCatalog wraps reader with an LRU of the given size.
func NewCatalog(reader CodeReader, size int) (*Catalog, error) {
	if size <= 0 {
		size = 128
	}
	cache, err := lru.New[string, Role](size)
	if err != nil {
		return nil, fmt.Errorf("roles: catalog cache: %w", err)
	}
	return &Catalog{reader: reader, cache: cache}, nil
}

// GetByCode returns the cached role or loads it. Lookup failures are not cached.
func (c *Catalog) GetByCode(ctx context.Context, code string) (Role, error) {
	code = NormalizeCode(code)
	if role, ok := c.cache.Get(code); ok {
		return role, nil
	}
	role, err := c.reader.GetByCode(ctx, code)
	if err != nil {
		return Role{}, err
	}
	c.cache.Add(code, role)
	return role, nil
}

// Len reports the number of cached roles.
func (c *Catalog) Len() int {
	return c.cache.Len()
}
