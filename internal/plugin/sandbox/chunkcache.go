package sandbox

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// DefaultChunkCacheSize bounds how many compiled plugin chunks stay cached.
const DefaultChunkCacheSize = 128

// ChunkCache caches compiled Lua function prototypes keyed by plugin slug
// and version. Compiled prototypes are immutable and safe to share across
// states, so reactivating a plugin skips the parse and compile step.
type ChunkCache struct {
	cache *lru.Cache[string, *lua.FunctionProto]
}

// NewChunkCache creates a chunk cache holding at most size entries.
func NewChunkCache(size int) (*ChunkCache, error) {
	if size <= 0 {
		size = DefaultChunkCacheSize
	}
	cache, err := lru.New[string, *lua.FunctionProto](size)
	if err != nil {
		return nil, fmt.Errorf("create chunk cache: %w", err)
	}
	return &ChunkCache{cache: cache}, nil
}

// Compile returns the compiled prototype for the given source, using the
// cached copy when slug and version match a previous compile.
func (c *ChunkCache) Compile(slug, version, source string) (*lua.FunctionProto, error) {
	key := slug + "@" + version
	if proto, ok := c.cache.Get(key); ok {
		return proto, nil
	}
	proto, err := compileChunk(source, slug)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, proto)
	return proto, nil
}

// Invalidate drops every cached chunk for the given slug, across versions.
func (c *ChunkCache) Invalidate(slug string) {
	prefix := slug + "@"
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Remove(key)
		}
	}
}

// Len returns the number of cached chunks.
func (c *ChunkCache) Len() int {
	return c.cache.Len()
}

func compileChunk(source, name string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return proto, nil
}
