package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/harmonics/config"
	"github.com/sbl8/harmonics/device"
	"github.com/sbl8/harmonics/kernel/registry"
)

const sampleYAML = `
backend: gpu
secure: true
shader_cache_dir: /var/cache/harmonics
partitions:
  - name: boundary0
    host: node-a
    port: 7701
    transport_kind: grpc
    compressed: true
    bandwidth: 3
  - name: boundary1
    host: /tmp/bridge.bin
    transport_kind: file
`

func TestParseDeployment(t *testing.T) {
	d, err := config.ParseDeployment([]byte(sampleYAML))
	require.NoError(t, err)
	require.True(t, d.Secure)
	require.Equal(t, device.GPU, d.DeviceBackend())
	require.Equal(t, "/var/cache/harmonics", d.ShaderCacheDir)
	require.Len(t, d.Partitions, 2)

	require.Equal(t, "grpc:node-a:7701", d.Partitions[0].URI())
	require.True(t, d.Partitions[0].Compressed)
	require.Equal(t, 3, d.Partitions[0].Bandwidth)
	require.Equal(t, "file:/tmp/bridge.bin", d.Partitions[1].URI())
}

func TestLoadDeployment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	d, err := config.LoadDeployment(path)
	require.NoError(t, err)
	require.Equal(t, device.GPU, d.DeviceBackend())
}

func TestUnknownBackendDefaultsToCPU(t *testing.T) {
	d, err := config.ParseDeployment([]byte("backend: abacus"))
	require.NoError(t, err)
	require.Equal(t, device.CPU, d.DeviceBackend())
}

func TestReadEnv(t *testing.T) {
	t.Setenv("HARMONICS_SHADER_CACHE", "/tmp/sc")
	t.Setenv("HARMONICS_ENABLE_WASM", "1")
	t.Setenv("HARMONICS_ENABLE_QUANTUM_HW", "")
	e := config.ReadEnv()
	require.Equal(t, "/tmp/sc", e.ShaderCacheDir)
	require.True(t, e.EnableWASM)
	require.False(t, e.EnableQuantumHW)
}

func TestDevicesHonorEnvGates(t *testing.T) {
	e := config.Env{EnableWASM: true}
	r := e.Devices(registry.New())

	_, effective, err := r.Resolve(device.WASM)
	require.NoError(t, err)
	require.Equal(t, device.WASM, effective)

	// Quantum was not enabled: downgrade to CPU.
	_, effective, err = r.Resolve(device.Quantum)
	require.Error(t, err)
	require.Equal(t, device.CPU, effective)
}

func TestQuantumRequiresLoadableBridge(t *testing.T) {
	// Both gates set, but the named library does not exist: the bridge
	// fails to load and the quantum backend stays absent.
	e := config.Env{EnableQuantumHW: true, QuantumHWLib: "/nonexistent/bridge.so"}
	r := e.Devices(registry.New())

	_, effective, err := r.Resolve(device.Quantum)
	require.Error(t, err)
	require.Equal(t, device.CPU, effective)
}
