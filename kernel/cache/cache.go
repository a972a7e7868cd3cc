// Package cache implements the two kernel caches: an in-memory compile
// cache memoising a graph+policy's flattened Op sequence (shared across
// concurrent runtimes, so runtimes over the same graph under the same
// policy reuse one plan), and a persistent, file-backed compiled-kernel
// store keyed by BLAKE3(kernel_name:bits) with write-temp+rename for
// concurrent-safe persistence.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"lukechampine.com/blake3"

	"github.com/sbl8/harmonics/kernel/compiler"
	"github.com/sbl8/harmonics/metrics"
)

// CompileCache memoises []compiler.Op by BLAKE3(graphDigest||policyDigest).
type CompileCache struct {
	mu    sync.RWMutex
	plans map[[32]byte][]compiler.Op
}

// NewCompileCache creates an empty shader_compile_cache.
func NewCompileCache() *CompileCache {
	return &CompileCache{plans: map[[32]byte][]compiler.Op{}}
}

// Key derives the cache key from a graph digest and a policy digest.
func Key(graphDigest, policyDigest [32]byte) [32]byte {
	h := blake3.New(32, nil)
	h.Write(graphDigest[:])
	h.Write(policyDigest[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Get returns a memoised plan, if present.
func (c *CompileCache) Get(key [32]byte) ([]compiler.Op, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ops, ok := c.plans[key]
	return ops, ok
}

// Put stores a compiled plan under key.
func (c *CompileCache) Put(key [32]byte, ops []compiler.Op) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[key] = ops
}

// DefaultDir is the fallback shader cache directory when
// HARMONICS_SHADER_CACHE is unset.
const DefaultDir = "shader_cache"

// Dir resolves the configured shader cache directory from the environment.
func Dir() string {
	if v := os.Getenv("HARMONICS_SHADER_CACHE"); v != "" {
		return v
	}
	return DefaultDir
}

// KernelCache is the persistent, file-backed compiled-kernel-byte store,
// keyed by BLAKE3(kernel_name || ":" || bits).
type KernelCache struct {
	dir string
	mu  sync.Mutex
}

// NewKernelCache opens (creating if absent) a KernelCache rooted at dir.
func NewKernelCache(dir string) (*KernelCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &KernelCache{dir: dir}, nil
}

// KeyFor derives the cache key for a named kernel compiled at bits.
func KeyFor(kernelName string, bits uint8) [32]byte {
	h := blake3.New(32, nil)
	h.Write([]byte(kernelName))
	h.Write([]byte(":"))
	h.Write([]byte(fmt.Sprintf("%d", bits)))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (c *KernelCache) path(key [32]byte) string {
	return filepath.Join(c.dir, fmt.Sprintf("%x.kernel", key))
}

// Load returns the cached bytes for key, or (nil, false) on a cache miss.
func (c *KernelCache) Load(key [32]byte) ([]byte, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Store writes data under key via write-temp-then-rename, so concurrent
// writers racing on the same key never observe a partially written file.
func (c *KernelCache) Store(key [32]byte, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	final := c.path(key)
	tmp := final + fmt.Sprintf(".tmp-%d", os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

// LoadOrCompile returns the cached bytes for (kernelName, bits), compiling
// via compile and storing the result on a miss.
func (c *KernelCache) LoadOrCompile(kernelName string, bits uint8, compile func() ([]byte, error)) ([]byte, error) {
	key := KeyFor(kernelName, bits)
	if data, ok := c.Load(key); ok {
		metrics.KernelCacheHits.Inc()
		return data, nil
	}
	metrics.KernelCacheMisses.Inc()
	data, err := compile()
	if err != nil {
		return nil, err
	}
	if err := c.Store(key, data); err != nil {
		return nil, err
	}
	return data, nil
}
