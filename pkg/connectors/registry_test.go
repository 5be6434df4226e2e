package connectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raoof128/ILAE/pkg/engine"
)

func TestRegisterRejectsDuplicatePlatform(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(NewMock(engine.PlatformGitHub)))
	err := registry.Register(NewMock(engine.PlatformGitHub))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestGetUnknownPlatform(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Get(engine.PlatformAWS)
	require.Error(t, err)
	assert.True(t, engine.IsPermanent(err))
}

func TestPlatformsPreserveRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(NewMock(engine.PlatformSlack))
	registry.MustRegister(NewMock(engine.PlatformAzure))

	assert.Equal(t, []engine.Platform{engine.PlatformSlack, engine.PlatformAzure}, registry.Platforms())
}

func TestNewMockRegistryCoversDefaultPlatforms(t *testing.T) {
	registry, mocks := NewMockRegistry()

	for _, platform := range engine.DefaultPlatformPriority {
		c, err := registry.Get(platform)
		require.NoError(t, err)
		assert.Same(t, mocks[platform], c)
	}
}
