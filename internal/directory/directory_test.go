package directory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func directories(t *testing.T) map[string]Directory {
	t.Helper()

	sqliteDir, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteDir.Close() })

	return map[string]Directory{
		"memory": NewMemoryDirectory(),
		"sqlite": sqliteDir,
	}
}

func TestDirectoryLifecycle(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) { testLifecycle(t, dir) })
	}
}

func TestDirectoryErrors(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) { testErrors(t, dir) })
	}
}

func TestDirectoryConcurrentCreate(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) { testConcurrentCreate(t, dir) })
	}
}

// testLifecycle, testErrors and testConcurrentCreate hold the behaviour
// every Directory implementation shares.
func testLifecycle(t *testing.T, dir Directory) {
	ctx := context.Background()

	u, err := dir.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, u)

	created, err := dir.Create(ctx, "alice", "alice@example.com", "Europe/Prague")
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "alice", created.Username)
	assert.Equal(t, "alice@example.com", created.Email)
	assert.Equal(t, "Europe/Prague", created.Timezone)
	assert.NotEmpty(t, created.ID.String())

	// Create is create-or-fetch.
	again, err := dir.Create(ctx, "alice", "other@example.com", "UTC")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
	assert.Equal(t, "alice@example.com", again.Email)

	again.Email = "alice@new.example.com"
	again.Timezone = "UTC"
	require.NoError(t, dir.Update(ctx, again))

	got, err := dir.Lookup(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice@new.example.com", got.Email)
	assert.Equal(t, "UTC", got.Timezone)
	assert.Empty(t, got.Groups)

	require.NoError(t, dir.SetGroups(ctx, "alice", []string{"packager", "admins", "packager", ""}))
	got, err = dir.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"admins", "packager"}, got.Groups)

	require.NoError(t, dir.SetGroups(ctx, "alice", []string{}))
	got, err = dir.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, got.Groups)
}

func testErrors(t *testing.T, dir Directory) {
	ctx := context.Background()

	_, err := dir.Create(ctx, "", "x@example.com", "")
	assert.ErrorIs(t, err, ErrInvalidUsername)

	assert.Error(t, dir.Update(ctx, &User{Username: "ghost"}))
	assert.Error(t, dir.SetGroups(ctx, "ghost", []string{"a"}))
}

func testConcurrentCreate(t *testing.T, dir Directory) {
	ctx := context.Background()

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := dir.Create(ctx, "bob", fmt.Sprintf("bob%d@example.com", i), "")
			errs[i] = err
			if u != nil {
				ids[i] = u.ID.String()
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}
