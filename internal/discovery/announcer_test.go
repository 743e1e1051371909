package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnnouncer_DefaultsReannounceInterval(t *testing.T) {
	a := NewAnnouncer(0, nil)
	assert.Equal(t, 60*time.Second, a.reannounce)
}

func TestAnnouncer_AdvertisesLicenseAndDatabaseSimultaneously(t *testing.T) {
	a := NewAnnouncer(time.Minute, nil)
	defer a.Stop()

	require.NoError(t, a.AdvertiseLicenseService(serviceTypeLicense, 7890))
	require.NoError(t, a.AdvertiseDatabaseService(serviceTypePostgres, "db-1", 5432, "16"))

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Len(t, a.profiles, 2)
	assert.Contains(t, a.profiles, profileKey(serviceTypeLicense, "license", 7890))
	assert.Contains(t, a.profiles, profileKey(serviceTypePostgres, "db-1", 5432))
}

func TestAnnouncer_AdvertiseLicenseService_ReplacesOnDifferentPort(t *testing.T) {
	a := NewAnnouncer(time.Minute, nil)
	defer a.Stop()

	require.NoError(t, a.AdvertiseLicenseService(serviceTypeLicense, 7890))
	a.mu.Lock()
	firstKey := profileKey(serviceTypeLicense, "license", 7890)
	_, firstExists := a.profiles[firstKey]
	a.mu.Unlock()
	assert.True(t, firstExists)

	require.NoError(t, a.AdvertiseLicenseService(serviceTypeLicense, 7891))
	a.mu.Lock()
	_, staleExists := a.profiles[firstKey]
	_, newExists := a.profiles[profileKey(serviceTypeLicense, "license", 7891)]
	count := len(a.profiles)
	a.mu.Unlock()

	assert.False(t, staleExists)
	assert.True(t, newExists)
	assert.Equal(t, 1, count)
}

func TestAnnouncer_Unregister_RemovesProfile(t *testing.T) {
	a := NewAnnouncer(time.Minute, nil)
	defer a.Stop()

	require.NoError(t, a.AdvertiseLicenseService(serviceTypeLicense, 7890))
	key := profileKey(serviceTypeLicense, "license", 7890)

	a.Unregister(key)

	a.mu.Lock()
	_, exists := a.profiles[key]
	a.mu.Unlock()
	assert.False(t, exists)
}

func TestAnnouncer_SetReannounceInterval_RejectsBelowMinimum(t *testing.T) {
	a := NewAnnouncer(time.Minute, nil)
	defer a.Stop()

	err := a.SetReannounceInterval(5 * time.Second)
	assert.Error(t, err)

	require.NoError(t, a.SetReannounceInterval(15*time.Second))
}

func TestAnnouncer_ReAnnounceAll_RefreshesEveryProfile(t *testing.T) {
	a := NewAnnouncer(time.Minute, nil)
	defer a.Stop()

	require.NoError(t, a.AdvertiseLicenseService(serviceTypeLicense, 7890))
	require.NoError(t, a.AdvertiseDatabaseService(serviceTypePostgres, "db-1", 5432, "16"))

	require.NoError(t, a.ReAnnounceAll())

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Len(t, a.profiles, 2)
	for _, p := range a.profiles {
		assert.NotNil(t, p.server)
	}
}

func TestAnnouncer_Stop_IsIdempotent(t *testing.T) {
	a := NewAnnouncer(time.Minute, nil)
	require.NoError(t, a.AdvertiseLicenseService(serviceTypeLicense, 7890))
	a.Stop()
	a.Stop()

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Empty(t, a.profiles)
}
