package cache_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/harmonics/kernel/cache"
	"github.com/sbl8/harmonics/kernel/compiler"
)

func TestCompileCacheMemoises(t *testing.T) {
	c := cache.NewCompileCache()
	key := cache.Key([32]byte{1}, [32]byte{2})

	_, ok := c.Get(key)
	require.False(t, ok)

	c.Put(key, []compiler.Op{{Bits: 8}})
	ops, ok := c.Get(key)
	require.True(t, ok)
	require.Len(t, ops, 1)
}

func TestKeyDependsOnBothDigests(t *testing.T) {
	a := cache.Key([32]byte{1}, [32]byte{2})
	b := cache.Key([32]byte{1}, [32]byte{3})
	require.NotEqual(t, a, b)
}

func TestKernelCacheRoundTrip(t *testing.T) {
	kc, err := cache.NewKernelCache(t.TempDir())
	require.NoError(t, err)

	key := cache.KeyFor("relu", 16)
	_, ok := kc.Load(key)
	require.False(t, ok)

	require.NoError(t, kc.Store(key, []byte("compiled")))
	data, ok := kc.Load(key)
	require.True(t, ok)
	require.Equal(t, []byte("compiled"), data)
}

func TestLoadOrCompileCompilesOnce(t *testing.T) {
	kc, err := cache.NewKernelCache(t.TempDir())
	require.NoError(t, err)

	compiles := 0
	compile := func() ([]byte, error) {
		compiles++
		return []byte("bytes"), nil
	}
	for i := 0; i < 3; i++ {
		data, err := kc.LoadOrCompile("sigmoid", 8, compile)
		require.NoError(t, err)
		require.Equal(t, []byte("bytes"), data)
	}
	require.Equal(t, 1, compiles)
}

func TestConcurrentStoresSameKey(t *testing.T) {
	kc, err := cache.NewKernelCache(t.TempDir())
	require.NoError(t, err)
	key := cache.KeyFor("conv", 32)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, kc.Store(key, []byte("payload")))
		}()
	}
	wg.Wait()

	data, ok := kc.Load(key)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), data)
}

func TestKeyForDistinguishesBits(t *testing.T) {
	require.NotEqual(t, cache.KeyFor("relu", 8), cache.KeyFor("relu", 16))
	require.NotEqual(t, cache.KeyFor("relu", 8), cache.KeyFor("gelu", 8))
}

func TestDirHonorsEnv(t *testing.T) {
	t.Setenv("HARMONICS_SHADER_CACHE", "/tmp/somewhere")
	require.Equal(t, "/tmp/somewhere", cache.Dir())
	t.Setenv("HARMONICS_SHADER_CACHE", "")
	require.Equal(t, cache.DefaultDir, cache.Dir())
}
