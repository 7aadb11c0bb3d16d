// internal/services/generation_service_test.go
package services

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbn434/lambda/internal/config"
	"github.com/jbn434/lambda/internal/models"
	"github.com/jbn434/lambda/internal/store"
)

func seedIssued(t *testing.T, st *store.MemoryStore, pending bool) (*models.Application, *models.License) {
	t.Helper()
	ctx := context.Background()

	licID := uuid.New()
	app := &models.Application{
		ApplicationNo:     "APP-2608TESTGEN1",
		RequestType:       models.RequestTypeNew,
		Channel:           models.ChannelWeb,
		State:             models.StateIssued,
		HolderID:          uuid.New(),
		FirstName:         "Ngozi",
		LastName:          "Eze",
		LicenseClass:      "C",
		LicenseID:         &licID,
		GenerationPending: pending,
	}
	require.NoError(t, st.CreateApplication(ctx, app))

	lic := &models.License{
		BaseModel:     models.BaseModel{ID: licID},
		LicenseNo:     "DL-26GENTEST01",
		ApplicationID: app.ID,
		HolderID:      app.HolderID,
		LicenseClass:  "C",
		Status:        models.LicenseStatusActive,
		IssuedAt:      time.Now(),
		ExpiresAt:     time.Now().AddDate(5, 0, 0),
	}
	require.NoError(t, st.CreateLicense(ctx, lic))
	return app, lic
}

func TestGenerateWritesArtifact(t *testing.T) {
	st := store.NewMemoryStore()
	dir := t.TempDir()
	gen, err := NewGenerationService(config.AWSConfig{LocalStorageDir: dir}, st)
	require.NoError(t, err)

	app, lic := seedIssued(t, st, false)

	require.NoError(t, gen.Generate(context.Background(), app.ApplicationNo, lic.LicenseNo))

	raw, err := os.ReadFile(filepath.Join(dir, "licenses", lic.LicenseNo, "license.json"))
	require.NoError(t, err)

	var artifact map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &artifact))
	assert.Equal(t, lic.LicenseNo, artifact["license_no"])
	assert.Equal(t, "Ngozi Eze", artifact["holder_name"])
	assert.Equal(t, "C", artifact["license_class"])
}

func TestGenerateUnknownLicense(t *testing.T) {
	st := store.NewMemoryStore()
	gen, err := NewGenerationService(config.AWSConfig{LocalStorageDir: t.TempDir()}, st)
	require.NoError(t, err)

	err = gen.Generate(context.Background(), "APP-NONE", "DL-NONE")
	assert.Equal(t, CodeGenerationFailed, CodeOf(err))
}

func TestRegenerateClearsPendingFlag(t *testing.T) {
	st := store.NewMemoryStore()
	gen, err := NewGenerationService(config.AWSConfig{LocalStorageDir: t.TempDir()}, st)
	require.NoError(t, err)

	app, lic := seedIssued(t, st, true)

	_, err = gen.Regenerate(context.Background(), lic.LicenseNo)
	require.NoError(t, err)

	reloaded, err := st.ApplicationByID(context.Background(), app.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.GenerationPending)
}

func TestRetryPendingRecovers(t *testing.T) {
	st := store.NewMemoryStore()
	gen, err := NewGenerationService(config.AWSConfig{LocalStorageDir: t.TempDir()}, st)
	require.NoError(t, err)

	seedIssued(t, st, true)

	retried, err := gen.RetryPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, retried)

	remaining, err := st.ListGenerationPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
