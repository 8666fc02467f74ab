package inmemsession

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eloschool/backend/core/access"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if _, err := s.Load(ctx, "sid1"); err != access.ErrNoSelection {
		t.Fatalf("Load() error = %v, want %v", err, access.ErrNoSelection)
	}

	school := access.Descriptor{ID: "s1", DatabaseURL: "https://s1.firebaseio.com", StorageBucket: "s1.appspot.com", ProjectID: "p1"}
	require.NoError(t, s.Save(ctx, "sid1", access.SchoolSelection(school)))
	assert.Len(t, s.Fields("sid1"), 2)
	assert.Equal(t, 1, s.Saves())

	sel, err := s.Load(ctx, "sid1")
	require.NoError(t, err)
	assert.Equal(t, access.AccessSchool, sel.AccessType)
	assert.Equal(t, school, *sel.School)

	assert.Error(t, s.Save(ctx, "sid1", access.Selection{AccessType: access.AccessSchool}))
	assert.Error(t, s.Save(ctx, "sid1", access.Selection{AccessType: "lol"}))

	require.NoError(t, s.Clear(ctx, "sid1"))
	assert.Empty(t, s.Fields("sid1"))
	if _, err = s.Load(ctx, "sid1"); err != access.ErrNoSelection {
		t.Errorf("Load() error = %v, want %v", err, access.ErrNoSelection)
	}
}
