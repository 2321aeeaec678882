package yamlstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fleetsched/internal/models"
)

func testDescription(name string) models.ParticipantDescription {
	return models.ParticipantDescription{
		Name:           name,
		Owner:          "test_fleet",
		Responsiveness: models.Responsive,
		Profile:        models.Profile{Footprint: 0.6},
	}
}

func TestStore_AddOrRetrieve(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "registry.yaml")

	store, err := New(path)
	require.NoError(t, err)
	defer store.Close()

	reg, created, err := store.AddOrRetrieve(ctx, testDescription("robot_1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.ParticipantID(1), reg.ID)

	// повторная регистрация возвращает тот же идентификатор
	again, created, err := store.AddOrRetrieve(ctx, testDescription("robot_1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, reg.ID, again.ID)

	// другой участник получает новый идентификатор
	other, created, err := store.AddOrRetrieve(ctx, testDescription("robot_2"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.ParticipantID(2), other.ID)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "registry.yaml")

	store, err := New(path)
	require.NoError(t, err)
	_, _, err = store.AddOrRetrieve(ctx, testDescription("robot_1"))
	require.NoError(t, err)
	desc := testDescription("robot_2")
	desc.Responsiveness = models.Unresponsive
	_, _, err = store.AddOrRetrieve(ctx, desc)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// переоткрываем файл: привязки и описания сохранились
	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	all, err := reopened.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, models.ParticipantID(1), all[0].ID)
	assert.Equal(t, "robot_1", all[0].Description.Name)
	assert.Equal(t, models.Unresponsive, all[1].Description.Responsiveness)

	// нумерация продолжается с сохраненного места
	reg, created, err := reopened.AddOrRetrieve(ctx, testDescription("robot_3"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.ParticipantID(3), reg.ID)
}

func TestStore_MissingFileMeansEmptyRegistry(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	defer store.Close()

	all, err := store.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_CorruptFileRefusesToLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("participants: [broken"), 0600))

	_, err := New(path)
	assert.Error(t, err, "a corrupt registry must prevent startup")
}

func TestStore_ReregistrationUpdatesDescription(t *testing.T) {
	ctx := context.Background()
	store, err := New(filepath.Join(t.TempDir(), "registry.yaml"))
	require.NoError(t, err)
	defer store.Close()

	_, _, err = store.AddOrRetrieve(ctx, testDescription("robot_1"))
	require.NoError(t, err)

	updated := testDescription("robot_1")
	updated.Responsiveness = models.Unresponsive
	reg, created, err := store.AddOrRetrieve(ctx, updated)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.Unresponsive, reg.Description.Responsiveness)
}
