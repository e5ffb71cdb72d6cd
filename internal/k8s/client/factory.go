package client

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/aaronlmathis/kaptn-insight/internal/config"
	"github.com/aaronlmathis/kaptn-insight/internal/version"
)

// ClientMode represents the mode for creating Kubernetes clients
type ClientMode string

const (
	// InClusterMode uses in-cluster configuration (ServiceAccount)
	InClusterMode ClientMode = "incluster"
	// KubeconfigMode uses kubeconfig file
	KubeconfigMode ClientMode = "kubeconfig"
)

// Factory creates Kubernetes clients
type Factory struct {
	logger        *zap.Logger
	config        *rest.Config
	client        kubernetes.Interface
	metricsClient metricsclientset.Interface
}

// NewFactory creates a new client factory
func NewFactory(logger *zap.Logger, cfg config.KubernetesConfig) (*Factory, error) {
	var restConfig *rest.Config
	var err error

	switch ClientMode(cfg.Mode) {
	case InClusterMode:
		logger.Info("Creating in-cluster Kubernetes client")
		restConfig, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create in-cluster config: %w", err)
		}
	case KubeconfigMode:
		logger.Info("Creating kubeconfig-based Kubernetes client", zap.String("kubeconfig", cfg.KubeconfigPath))
		restConfig, err = buildKubeconfigFromPath(cfg.KubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create kubeconfig-based config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported client mode: %s", cfg.Mode)
	}

	restConfig.UserAgent = version.UserAgent()

	// client-go applies a token bucket limiter from these
	if cfg.QPS > 0 {
		restConfig.QPS = cfg.QPS
	}
	if cfg.Burst > 0 {
		restConfig.Burst = cfg.Burst
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}

	metricsClient, err := metricsclientset.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics clientset: %w", err)
	}

	logger.Info("Kubernetes client factory created successfully")

	return &Factory{
		logger:        logger,
		config:        restConfig,
		client:        clientset,
		metricsClient: metricsClient,
	}, nil
}

// Client returns the Kubernetes clientset
func (f *Factory) Client() kubernetes.Interface {
	return f.client
}

// MetricsClient returns the metrics.k8s.io clientset
func (f *Factory) MetricsClient() metricsclientset.Interface {
	return f.metricsClient
}

// Config returns the REST config
func (f *Factory) Config() *rest.Config {
	return f.config
}

// buildKubeconfigFromPath builds a kubeconfig from the given path
func buildKubeconfigFromPath(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath == "" {
		// Try default locations
		if kubeconfig := os.Getenv("KUBECONFIG"); kubeconfig != "" {
			kubeconfigPath = kubeconfig
		} else if home := homedir.HomeDir(); home != "" {
			kubeconfigPath = filepath.Join(home, ".kube", "config")
		} else {
			return nil, fmt.Errorf("no kubeconfig path provided and unable to determine default location")
		}
	}

	if _, err := os.Stat(kubeconfigPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("kubeconfig file does not exist: %s", kubeconfigPath)
	}

	restConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build config from kubeconfig %s: %w", kubeconfigPath, err)
	}

	return restConfig, nil
}

// ValidateConnection tests the connection to the Kubernetes API server
func (f *Factory) ValidateConnection() error {
	f.logger.Info("Validating Kubernetes connection")

	version, err := f.client.Discovery().ServerVersion()
	if err != nil {
		return fmt.Errorf("failed to connect to Kubernetes API: %w", err)
	}

	f.logger.Info("Kubernetes connection validated",
		zap.String("gitVersion", version.GitVersion),
		zap.String("platform", version.Platform),
	)

	return nil
}
