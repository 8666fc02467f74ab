package access_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eloschool/backend/core/access"
	testutil "github.com/eloschool/backend/tests"
)

func TestSessions(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFixture(t)
	s1 := f.AddSchool(t, "s1")
	f.Link(t, user.UID, "s1")

	now := time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC)
	defer access.SetNowFunc(func() time.Time { return now })()

	sessions := access.NewSessions(f.Deps())
	a := sessions.Open("a")
	assert.Same(t, a, sessions.Open("a"))
	assert.Equal(t, "a", a.SessionID())
	_, ok := sessions.Get("b")
	assert.False(t, ok)

	require.Equal(t, access.StateReady, a.SignIn(ctx, user).State)
	assert.Equal(t, 1, f.Connector.Len())

	now = now.Add(10 * time.Minute)
	b := sessions.Open("b")
	assert.Equal(t, 2, sessions.Len())

	now = now.Add(10 * time.Minute)
	got, ok := sessions.Get("b")
	require.True(t, ok)
	assert.Same(t, b, got)

	// a was last seen 20 minutes ago
	assert.Equal(t, 1, sessions.Prune(15*time.Minute))
	assert.Equal(t, 1, sessions.Len())
	_, ok = sessions.Get("a")
	assert.False(t, ok)
	assert.Zero(t, f.Connector.Len())
	assert.Equal(t, access.StateUnauthenticated, a.Snapshot().State)

	// the selection survives and is resumed by a new controller
	sel, err := f.Sessions.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, access.SchoolSelection(s1), sel)
	assert.Equal(t, s1, *sessions.Open("a").SignIn(ctx, user).CurrentSchool)

	sessions.Close("b")
	assert.Equal(t, 1, sessions.Len())
	sessions.CloseAll()
	assert.Zero(t, sessions.Len())
	assert.Zero(t, f.Connector.Len())
}
