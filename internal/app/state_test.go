package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStore_LoadSaveDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store := NewStateStore(path)

	state, err := store.Load("demo")
	require.NoError(t, err)
	assert.Nil(t, state, "fresh store has no state")

	require.NoError(t, store.Save(&BucketState{RunID: "run-1", Bucket: "demo", ContainerID: "c1", LastSuccessfulStage: StageCreate}))
	require.NoError(t, store.Save(&BucketState{RunID: "run-2", Bucket: "other", ContainerID: "c2"}))

	state, err = store.Load("demo")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "c1", state.ContainerID)
	assert.Equal(t, StageCreate, state.LastSuccessfulStage)
	assert.False(t, state.LastUpdatedAt.IsZero())

	id, err := store.ContainerID("other")
	require.NoError(t, err)
	assert.Equal(t, "c2", id)

	require.NoError(t, store.Delete("demo"))
	require.NoError(t, store.Delete("demo"), "deleting twice is fine")

	state, err = store.Load("demo")
	require.NoError(t, err)
	assert.Nil(t, state)

	id, err = store.ContainerID("other")
	require.NoError(t, err)
	assert.Equal(t, "c2", id, "other buckets are untouched")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestStateStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewStateStore(path).Load("demo")
	assert.ErrorContains(t, err, "failed to parse state file")
}

func TestBucketState_ShouldSkipStage(t *testing.T) {
	tests := []struct {
		name  string
		last  ProvisionStage
		stage ProvisionStage
		skip  bool
	}{
		{name: "fresh run", last: "", stage: StageImage, skip: false},
		{name: "image done", last: StageImage, stage: StageImage, skip: true},
		{name: "image done, create pending", last: StageImage, stage: StageCreate, skip: false},
		{name: "create done skips image", last: StageCreate, stage: StageImage, skip: true},
		{name: "create done, start pending", last: StageCreate, stage: StageStart, skip: false},
		{name: "completed skips start", last: StageCompleted, stage: StageStart, skip: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &BucketState{LastSuccessfulStage: tt.last}
			assert.Equal(t, tt.skip, state.shouldSkipStage(tt.stage))
		})
	}

	var nilState *BucketState
	assert.False(t, nilState.shouldSkipStage(StageImage))
}

func TestBucketState_GetNextStage(t *testing.T) {
	tests := []struct {
		last ProvisionStage
		want ProvisionStage
	}{
		{last: "", want: StageImage},
		{last: StageImage, want: StageCreate},
		{last: StageCreate, want: StageStart},
		{last: StageStart, want: StageCompleted},
		{last: StageCompleted, want: StageCompleted},
		{last: "unknown", want: StageCompleted},
	}

	for _, tt := range tests {
		t.Run(string(tt.last), func(t *testing.T) {
			state := &BucketState{LastSuccessfulStage: tt.last}
			assert.Equal(t, tt.want, state.getNextStage())
		})
	}
}
