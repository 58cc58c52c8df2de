package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	services "github.com/syntrixbase/catalog/internal/services/config"
)

// mockServiceConfig implements ServiceConfig for testing ApplyServiceConfigs
type mockServiceConfig struct {
	calls         []string
	baseDir       string
	validateErr   error
	validatedMode services.DeploymentMode
}

func (m *mockServiceConfig) ApplyDefaults() {
	m.calls = append(m.calls, "defaults")
}

func (m *mockServiceConfig) ApplyEnvOverrides() {
	m.calls = append(m.calls, "env")
}

func (m *mockServiceConfig) ResolvePaths(baseDir string) {
	m.calls = append(m.calls, "paths")
	m.baseDir = baseDir
}

func (m *mockServiceConfig) Validate(mode services.DeploymentMode) error {
	m.calls = append(m.calls, "validate")
	m.validatedMode = mode
	return m.validateErr
}

func TestApplyServiceConfigs_AllMethodsCalledInOrder(t *testing.T) {
	cfg1 := &mockServiceConfig{}
	cfg2 := &mockServiceConfig{}

	err := ApplyServiceConfigs("/srv/catalog", services.ModeCluster, cfg1, cfg2)

	assert.NoError(t, err)
	for _, cfg := range []*mockServiceConfig{cfg1, cfg2} {
		assert.Equal(t, []string{"defaults", "env", "paths", "validate"}, cfg.calls)
		assert.Equal(t, "/srv/catalog", cfg.baseDir)
		assert.Equal(t, services.ModeCluster, cfg.validatedMode)
	}
}

func TestApplyServiceConfigs_ValidationErrorStops(t *testing.T) {
	cfg1 := &mockServiceConfig{validateErr: assert.AnError}
	cfg2 := &mockServiceConfig{}

	err := ApplyServiceConfigs("/srv/catalog", services.ModeLocal, cfg1, cfg2)

	assert.Equal(t, assert.AnError, err)
	assert.Empty(t, cfg2.calls)
}

func TestApplyServiceConfigs_EmptyList(t *testing.T) {
	assert.NoError(t, ApplyServiceConfigs("/srv/catalog", services.ModeLocal))
}
