package gitstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom-backend/domain/chat"
	"loom-backend/infrastructure/remote"
	"loom-backend/infrastructure/remote/remotetest"
)

func newCollectionFixture(t *testing.T) (*CollectionStore, *remotetest.FakeStore, remote.RepoRef) {
	t.Helper()
	fake := remotetest.NewFakeStore("octocat")
	repo := remote.RepoRef{Owner: "octocat", Name: "loom-data-alice"}
	fake.AddRepo(repo)
	return NewCollectionStore(fake, nil), fake, repo
}

func agentEntity(id, owner string, public bool, updatedAt time.Time) *chat.Entity {
	return &chat.Entity{
		ID:        id,
		OwnerID:   owner,
		Payload:   json.RawMessage(`{"name":"` + id + `"}`),
		IsPublic:  public,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func TestCollectionGetAbsentReturnsNil(t *testing.T) {
	store, _, repo := newCollectionFixture(t)

	entity, err := store.Get(context.Background(), repo, chat.CollectionAgents, "ghost")
	require.NoError(t, err)
	assert.Nil(t, entity)
}

func TestCollectionPutGetRoundTrip(t *testing.T) {
	store, fake, repo := newCollectionFixture(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)
	_, err := store.Put(ctx, repo, chat.CollectionAgents, agentEntity("helper", "alice", false, at))
	require.NoError(t, err)
	assert.NotNil(t, fake.Content(repo, "agents/helper.json"))

	got, err := store.Get(ctx, repo, chat.CollectionAgents, "helper")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "helper", got.ID)
	assert.Equal(t, "alice", got.OwnerID)
	assert.JSONEq(t, `{"name":"helper"}`, string(got.Payload))
}

func TestCollectionPutIdenticalSkipsWrite(t *testing.T) {
	store, fake, repo := newCollectionFixture(t)
	ctx := context.Background()

	entity := agentEntity("helper", "alice", false, time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC))
	_, err := store.Put(ctx, repo, chat.CollectionAgents, entity)
	require.NoError(t, err)

	puts := fake.PutCalls
	_, err = store.Put(ctx, repo, chat.CollectionAgents, entity)
	require.NoError(t, err)
	assert.Equal(t, puts, fake.PutCalls)
}

func TestCollectionDeleteAbsentIsNoOp(t *testing.T) {
	store, _, repo := newCollectionFixture(t)
	assert.NoError(t, store.Delete(context.Background(), repo, chat.CollectionAgents, "ghost"))
}

func TestCollectionDeleteRemovesFile(t *testing.T) {
	store, fake, repo := newCollectionFixture(t)
	ctx := context.Background()

	_, err := store.Put(ctx, repo, chat.CollectionWorkflows, agentEntity("flow", "alice", false, time.Now().UTC()))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, repo, chat.CollectionWorkflows, "flow"))
	assert.Nil(t, fake.Content(repo, "workflows/flow.json"))
}

func TestCollectionListFiltersAndSorts(t *testing.T) {
	store, _, repo := newCollectionFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.Put(ctx, repo, chat.CollectionAgents, agentEntity("old", "alice", false, base))
	require.NoError(t, err)
	_, err = store.Put(ctx, repo, chat.CollectionAgents, agentEntity("new", "alice", true, base.Add(time.Hour)))
	require.NoError(t, err)
	_, err = store.Put(ctx, repo, chat.CollectionAgents, agentEntity("other", "bob", true, base.Add(2*time.Hour)))
	require.NoError(t, err)

	mine, err := store.ListByOwner(ctx, repo, chat.CollectionAgents, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "new", mine[0].ID)
	assert.Equal(t, "old", mine[1].ID)

	public, err := store.ListPublic(ctx, repo, chat.CollectionAgents)
	require.NoError(t, err)
	require.Len(t, public, 2)
	assert.Equal(t, "other", public[0].ID)
	assert.Equal(t, "new", public[1].ID)
}

func TestCollectionListEmptyCollection(t *testing.T) {
	store, _, repo := newCollectionFixture(t)

	entities, err := store.ListByOwner(context.Background(), repo, chat.CollectionProfiles, "alice")
	require.NoError(t, err)
	assert.Empty(t, entities)
}
