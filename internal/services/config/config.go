package config

import (
	"fmt"
	"os"
)

// DeploymentMode represents the deployment mode of the catalog.
type DeploymentMode string

const (
	// ModeLocal runs a single node; the meta store doubles as coordinator.
	ModeLocal DeploymentMode = "local"
	// ModeCluster runs several nodes that coordinate through NATS JetStream KV.
	ModeCluster DeploymentMode = "cluster"
)

// IsLocal returns true if this is local mode.
// Empty string defaults to local.
func (m DeploymentMode) IsLocal() bool {
	return m == "" || m == ModeLocal
}

// IsCluster returns true if this is cluster mode.
func (m DeploymentMode) IsCluster() bool {
	return m == ModeCluster
}

// DeploymentConfig holds deployment mode settings
type DeploymentConfig struct {
	Mode   DeploymentMode `yaml:"mode"` // "local" (default) or "cluster"
	NodeID string         `yaml:"node_id"`
}

func DefaultDeploymentConfig() DeploymentConfig {
	host, _ := os.Hostname()
	if host == "" {
		host = "catalog"
	}
	return DeploymentConfig{
		Mode:   ModeLocal,
		NodeID: host,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *DeploymentConfig) ApplyDefaults() {
	defaults := DefaultDeploymentConfig()
	if c.Mode == "" {
		c.Mode = defaults.Mode
	}
	if c.NodeID == "" {
		c.NodeID = defaults.NodeID
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *DeploymentConfig) ApplyEnvOverrides() {
	if val := os.Getenv("CATALOG_DEPLOYMENT_MODE"); val != "" {
		c.Mode = DeploymentMode(val)
	}
	if val := os.Getenv("CATALOG_NODE_ID"); val != "" {
		c.NodeID = val
	}
}

// ResolvePaths resolves relative paths using the given base directory.
// No paths to resolve in deployment config.
func (c *DeploymentConfig) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *DeploymentConfig) Validate() error {
	if c.Mode != "" && c.Mode != ModeLocal && c.Mode != ModeCluster {
		return fmt.Errorf("deployment.mode must be 'local' or 'cluster', got '%s'", c.Mode)
	}
	return nil
}
