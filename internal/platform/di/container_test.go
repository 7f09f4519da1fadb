package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehgus2390/chineseapp/internal/docstore/docstoretest"
	moderationdom "github.com/ehgus2390/chineseapp/internal/domain/moderation"
	"github.com/ehgus2390/chineseapp/internal/domain/profile"
	"github.com/ehgus2390/chineseapp/internal/infra/config"
)

func memoryContainer(t *testing.T) *Container {
	t.Helper()
	t.Setenv("STORE_BACKEND", config.BackendMemory)
	cfg := config.Load()
	require.NoError(t, cfg.Validate())
	c, err := wire(cfg, &Infra{Config: cfg}, nil)
	require.NoError(t, err)
	return c
}

func TestWireMemoryBackend(t *testing.T) {
	c := memoryContainer(t)
	assert.NotNil(t, c.Store)
	assert.Nil(t, c.Purger.Directory)
	assert.Nil(t, c.Purger.Blobs)

	w := httptest.NewRecorder()
	c.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// Callables answer UNAVAILABLE without Firebase Auth.
	w = httptest.NewRecorder()
	c.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/callable/verifyPurchase", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReportEventReachesModeration(t *testing.T) {
	c := memoryContainer(t)
	docstoretest.Seed(t, c.Store, profile.Path("bob"), map[string]any{"displayName": "bob"})
	ch := docstoretest.Write(t, c.Store, "reports/r1", map[string]any{
		"reporterUid": "alice",
		"targetUid":   "bob",
		"reason":      "spam",
	})

	require.NoError(t, c.Events.Dispatch(context.Background(), ch))

	rec := moderationdom.Parse("bob", docstoretest.Read(t, c.Store, moderationdom.Path("bob")).Data)
	assert.Equal(t, int64(1), rec.TotalReports)
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")
	_, err := Build(context.Background(), config.Load(), nil)
	assert.Error(t, err)
}
