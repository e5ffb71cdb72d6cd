package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aaronlmathis/kaptn-insight/internal/config"
	"github.com/aaronlmathis/kaptn-insight/internal/version"
)

const testKubeconfig = `apiVersion: v1
kind: Config
clusters:
- cluster:
    server: https://example.com
  name: test-cluster
contexts:
- context:
    cluster: test-cluster
    user: test-user
  name: test-context
current-context: test-context
users:
- name: test-user
  user:
    token: test-token`

func writeKubeconfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kubeconfig")
	require.NoError(t, os.WriteFile(path, []byte(testKubeconfig), 0600))
	return path
}

func TestNewFactory(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name        string
		cfg         config.KubernetesConfig
		expectError bool
	}{
		{
			name:        "invalid mode",
			cfg:         config.KubernetesConfig{Mode: "invalid"},
			expectError: true,
		},
		{
			name:        "kubeconfig mode with non-existent file",
			cfg:         config.KubernetesConfig{Mode: "kubeconfig", KubeconfigPath: "/non/existent/kubeconfig"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFactory(logger, tt.cfg)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildKubeconfigFromPath(t *testing.T) {
	kubeconfigPath := writeKubeconfig(t)

	cfg, err := buildKubeconfigFromPath(kubeconfigPath)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", cfg.Host)

	_, err = buildKubeconfigFromPath("/non/existent/kubeconfig")
	assert.Error(t, err)
}

func TestFactory_Methods(t *testing.T) {
	logger := zaptest.NewLogger(t)

	factory, err := NewFactory(logger, config.KubernetesConfig{
		Mode:           "kubeconfig",
		KubeconfigPath: writeKubeconfig(t),
		QPS:            15,
		Burst:          30,
	})
	require.NoError(t, err)

	assert.NotNil(t, factory.Client())
	assert.NotNil(t, factory.MetricsClient())
	assert.Equal(t, "https://example.com", factory.Config().Host)
	assert.Equal(t, float32(15), factory.Config().QPS)
	assert.Equal(t, 30, factory.Config().Burst)
	assert.Equal(t, version.UserAgent(), factory.Config().UserAgent)
}
