package projectstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/projectsearch/internal/embedder"
	"github.com/dshills/projectsearch/internal/embedder/embeddertest"
	"github.com/dshills/projectsearch/internal/ranker"
	"github.com/dshills/projectsearch/internal/storage"
	"github.com/dshills/projectsearch/pkg/types"
)

const testDim = 64

func newTestStore(t *testing.T, opts Options) (*Store, *embeddertest.Stub, storage.Storage) {
	t.Helper()
	st := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = st.Close() })
	stub := embeddertest.NewStub(testDim)
	return New(st, stub, opts), stub, st
}

func sampleInput() types.ProjectInput {
	return types.ProjectInput{
		Title:       "Web Development",
		Budget:      5000,
		Description: "Build a responsive website with a modern frontend",
		Tags:        []string{"web", "frontend"},
		OwnerID:     7,
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	backends := map[string]func(t *testing.T) storage.Storage{
		"memory": func(t *testing.T) storage.Storage { return storage.NewMemoryStorage() },
		"sqlite": func(t *testing.T) storage.Storage {
			s, err := storage.NewSQLiteStorage(":memory:")
			require.NoError(t, err)
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			defer st.Close()
			store := New(st, embeddertest.NewStub(testDim), Options{})
			ctx := context.Background()

			created, err := store.CreateProject(ctx, sampleInput())
			require.NoError(t, err)
			assert.Positive(t, created.ID)
			assert.Equal(t, []string{"frontend", "web"}, created.Tags)
			require.Len(t, created.Embedding, testDim)

			got, err := store.GetProjectByID(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, created.Title, got.Title)
			assert.Equal(t, created.Budget, got.Budget)
			assert.Equal(t, created.Description, got.Description)
			assert.Equal(t, created.Tags, got.Tags)
			assert.Equal(t, created.OwnerID, got.OwnerID)
			assert.Equal(t, created.Embedding, got.Embedding)
		})
	}
}

func TestCreateValidationWritesNothing(t *testing.T) {
	store, stub, _ := newTestStore(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name  string
		input types.ProjectInput
	}{
		{"empty title", types.ProjectInput{Title: "  ", Description: "x"}},
		{"negative budget", types.ProjectInput{Title: "t", Budget: -1}},
		{"malformed tag", types.ProjectInput{Title: "t", Tags: []string{""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.CreateProject(ctx, tt.input)
			require.ErrorIs(t, err, types.ErrValidation)
		})
	}

	assert.Zero(t, stub.Calls())
	status, err := store.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Projects)
}

func TestCreateDegradesOnProviderFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store, stub, _ := newTestStore(t, Options{Logger: zap.New(core)})
	stub.SetFailing(true)
	ctx := context.Background()

	p, err := store.CreateProject(ctx, sampleInput())
	require.NoError(t, err)
	assert.False(t, p.HasEmbedding())
	assert.Equal(t, 1, logs.FilterMessage("embedding failed, storing project without embedding").Len())

	got, err := store.GetProjectByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Embedding)

	entries, err := store.ListAllWithEmbeddings(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Degraded projects stay keyword-searchable
	found, err := store.GetProjectsByKeyword(ctx, "responsive")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, p.ID, found[0].ID)
}

func TestCreateRequirePolicyFails(t *testing.T) {
	store, stub, _ := newTestStore(t, Options{EmbeddingPolicy: PolicyRequire})
	stub.SetFailing(true)
	ctx := context.Background()

	_, err := store.CreateProject(ctx, sampleInput())
	require.ErrorIs(t, err, types.ErrProviderUnavailable)

	status, err := store.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Projects)
}

func TestCreateEmbedTimeoutDegrades(t *testing.T) {
	store, stub, _ := newTestStore(t, Options{EmbedTimeout: 20 * time.Millisecond})
	stub.SetBlocking(true)

	p, err := store.CreateProject(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.False(t, p.HasEmbedding())
}

func TestCreateBlankDescriptionSkipsProvider(t *testing.T) {
	store, stub, _ := newTestStore(t, Options{EmbeddingPolicy: PolicyRequire})

	in := sampleInput()
	in.Description = ""
	p, err := store.CreateProject(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, p.HasEmbedding())
	assert.Zero(t, stub.Calls())
}

func TestCreateRejectsWrongDimension(t *testing.T) {
	store, stub, _ := newTestStore(t, Options{})
	stub.SetVectorDimension(testDim / 2)

	p, err := store.CreateProject(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.False(t, p.HasEmbedding())
}

func TestEditTitleOnlyKeepsEmbedding(t *testing.T) {
	store, stub, _ := newTestStore(t, Options{})
	ctx := context.Background()

	p, err := store.CreateProject(ctx, sampleInput())
	require.NoError(t, err)
	calls := stub.Calls()

	edited, err := store.EditProject(ctx, p.ID, types.EditInput{
		Title:       "Website Rebuild",
		Budget:      6000,
		Description: p.Description,
		Tags:        p.Tags,
		EditorID:    p.OwnerID,
	})
	require.NoError(t, err)
	assert.Equal(t, calls, stub.Calls())
	assert.Equal(t, "Website Rebuild", edited.Title)
	assert.Equal(t, 6000.0, edited.Budget)
	assert.Equal(t, p.Embedding, edited.Embedding)

	got, err := store.GetProjectByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Embedding, got.Embedding)
	assert.Equal(t, "Website Rebuild", got.Title)
}

func TestEditDescriptionReplacesEmbedding(t *testing.T) {
	store, _, _ := newTestStore(t, Options{})
	ctx := context.Background()

	p, err := store.CreateProject(ctx, sampleInput())
	require.NoError(t, err)

	edited, err := store.EditProject(ctx, p.ID, types.EditInput{
		Title:       p.Title,
		Budget:      p.Budget,
		Description: "Train a machine learning model for image classification",
		Tags:        []string{"ml", "web"},
		EditorID:    p.OwnerID,
	})
	require.NoError(t, err)
	require.Len(t, edited.Embedding, testDim)
	assert.NotEqual(t, p.Embedding, edited.Embedding)
	assert.Equal(t, []string{"ml", "web"}, edited.Tags)

	got, err := store.GetProjectByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, edited.Embedding, got.Embedding)
	assert.Equal(t, []string{"ml", "web"}, got.Tags)
}

func TestEditConcurrentSameProject(t *testing.T) {
	backends := map[string]func(t *testing.T) storage.Storage{
		"memory": func(t *testing.T) storage.Storage { return storage.NewMemoryStorage() },
		"sqlite": func(t *testing.T) storage.Storage {
			s, err := storage.NewSQLiteStorage(":memory:")
			require.NoError(t, err)
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			defer st.Close()
			store := New(st, embeddertest.NewStub(testDim), Options{})
			ctx := context.Background()

			p, err := store.CreateProject(ctx, sampleInput())
			require.NoError(t, err)

			const editors = 12
			descriptions := make(map[string]string, editors)
			errs := make(chan error, editors)
			var wg sync.WaitGroup
			for i := 0; i < editors; i++ {
				desc := fmt.Sprintf("revision %d of the storefront rewrite", i)
				tag := fmt.Sprintf("rev-%d", i)
				descriptions[desc] = tag
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.EditProject(ctx, p.ID, types.EditInput{
						Title:       p.Title,
						Budget:      p.Budget,
						Description: desc,
						Tags:        []string{tag},
						EditorID:    p.OwnerID,
					})
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			got, err := store.GetProjectByID(ctx, p.ID)
			require.NoError(t, err)
			tag, ok := descriptions[got.Description]
			require.True(t, ok, "final description comes from one of the edits")
			assert.Equal(t, []string{tag}, got.Tags, "tags from the same edit as the description")

			want, err := embeddertest.NewStub(testDim).GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: got.Description})
			require.NoError(t, err)
			assert.Equal(t, want.Vector, got.Embedding, "embedding matches the stored description")
		})
	}
}

func TestEditRetriesAfterConcurrentDescriptionChange(t *testing.T) {
	store, stub, _ := newTestStore(t, Options{})
	ctx := context.Background()

	p, err := store.CreateProject(ctx, sampleInput())
	require.NoError(t, err)

	const ours = "Port the billing service to Go"
	const theirs = "Rewrite the billing service in Rust"

	var once sync.Once
	var interleaved error
	stub.OnCall(func(text string) {
		if text != ours {
			return
		}
		once.Do(func() {
			_, interleaved = store.EditProject(ctx, p.ID, types.EditInput{
				Title:       p.Title,
				Budget:      p.Budget,
				Description: theirs,
				Tags:        []string{"rust"},
				EditorID:    p.OwnerID,
			})
		})
	})

	edited, err := store.EditProject(ctx, p.ID, types.EditInput{
		Title:       p.Title,
		Budget:      p.Budget,
		Description: ours,
		Tags:        []string{"go"},
		EditorID:    p.OwnerID,
	})
	require.NoError(t, interleaved)
	require.NoError(t, err)
	assert.Equal(t, ours, edited.Description)

	got, err := store.GetProjectByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ours, got.Description)
	assert.Equal(t, []string{"go"}, got.Tags)

	want, err := embeddertest.NewStub(testDim).GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: ours})
	require.NoError(t, err)
	assert.Equal(t, want.Vector, got.Embedding)
}

func TestPatchKeepsOmittedFields(t *testing.T) {
	store, _, _ := newTestStore(t, Options{})
	ctx := context.Background()

	p, err := store.CreateProject(ctx, sampleInput())
	require.NoError(t, err)

	budget := 7500.0
	patched, err := store.PatchProject(ctx, p.ID, types.ProjectPatch{Budget: &budget, EditorID: p.OwnerID})
	require.NoError(t, err)
	assert.Equal(t, budget, patched.Budget)
	assert.Equal(t, p.Title, patched.Title)
	assert.Equal(t, p.Description, patched.Description)
	assert.Equal(t, p.Tags, patched.Tags)
	assert.Equal(t, p.Embedding, patched.Embedding)

	blank := "  "
	_, err = store.PatchProject(ctx, p.ID, types.ProjectPatch{Title: &blank, EditorID: p.OwnerID})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = store.PatchProject(ctx, p.ID, types.ProjectPatch{Budget: &budget, EditorID: p.OwnerID + 1})
	assert.ErrorIs(t, err, types.ErrForbidden)

	_, err = store.PatchProject(ctx, 9999, types.ProjectPatch{Budget: &budget})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPatchDoesNotUndoConcurrentEdit(t *testing.T) {
	store, stub, _ := newTestStore(t, Options{})
	ctx := context.Background()

	p, err := store.CreateProject(ctx, sampleInput())
	require.NoError(t, err)

	const description = "Migrate the storefront to server-side rendering"
	var once sync.Once
	var interleaved error
	stub.OnCall(func(text string) {
		if text != description {
			return
		}
		once.Do(func() {
			_, interleaved = store.EditProject(ctx, p.ID, types.EditInput{
				Title:       "Storefront Rewrite",
				Budget:      p.Budget,
				Description: p.Description,
				Tags:        []string{"ssr"},
				EditorID:    p.OwnerID,
			})
		})
	})

	desc := description
	patched, err := store.PatchProject(ctx, p.ID, types.ProjectPatch{Description: &desc, EditorID: p.OwnerID})
	require.NoError(t, interleaved)
	require.NoError(t, err)

	got, err := store.GetProjectByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, description, got.Description)
	assert.Equal(t, "Storefront Rewrite", got.Title, "title from the concurrent edit survives")
	assert.Equal(t, []string{"ssr"}, got.Tags)
	assert.Equal(t, got.Embedding, patched.Embedding)
}

func TestEditDescriptionDegradeRemovesStaleEmbedding(t *testing.T) {
	store, stub, _ := newTestStore(t, Options{})
	ctx := context.Background()

	p, err := store.CreateProject(ctx, sampleInput())
	require.NoError(t, err)
	require.True(t, p.HasEmbedding())

	stub.SetFailing(true)
	edited, err := store.EditProject(ctx, p.ID, types.EditInput{
		Title:       p.Title,
		Description: "Something else entirely",
		EditorID:    p.OwnerID,
	})
	require.NoError(t, err)
	assert.False(t, edited.HasEmbedding())

	entries, err := store.ListAllWithEmbeddings(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEditDescriptionRequireKeepsOldState(t *testing.T) {
	store, stub, _ := newTestStore(t, Options{EmbeddingPolicy: PolicyRequire})
	ctx := context.Background()

	p, err := store.CreateProject(ctx, sampleInput())
	require.NoError(t, err)

	stub.SetFailing(true)
	_, err = store.EditProject(ctx, p.ID, types.EditInput{
		Title:       "Changed",
		Description: "Something else entirely",
		EditorID:    p.OwnerID,
	})
	require.ErrorIs(t, err, types.ErrProviderUnavailable)

	got, err := store.GetProjectByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Title, got.Title)
	assert.Equal(t, p.Embedding, got.Embedding)
}

func TestEditErrors(t *testing.T) {
	store, _, _ := newTestStore(t, Options{})
	ctx := context.Background()

	p, err := store.CreateProject(ctx, sampleInput())
	require.NoError(t, err)

	_, err = store.EditProject(ctx, p.ID+100, types.EditInput{Title: "x", EditorID: p.OwnerID})
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = store.EditProject(ctx, p.ID, types.EditInput{Title: "", EditorID: p.OwnerID})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = store.EditProject(ctx, p.ID, types.EditInput{Title: "x", EditorID: p.OwnerID + 1})
	assert.ErrorIs(t, err, types.ErrForbidden)

	got, err := store.GetProjectByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Title, got.Title)
}

func TestEditAnyEditorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store, _, _ := newTestStore(t, Options{EditorPolicy: EditorAny, Logger: zap.New(core)})
	ctx := context.Background()

	p, err := store.CreateProject(ctx, sampleInput())
	require.NoError(t, err)

	edited, err := store.EditProject(ctx, p.ID, types.EditInput{
		Title:       "Taken over",
		Description: p.Description,
		EditorID:    p.OwnerID + 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "Taken over", edited.Title)
	assert.Equal(t, p.OwnerID, edited.OwnerID)

	entries := logs.FilterMessage("project edited by non-owner").All()
	require.Len(t, entries, 1)
	assert.Equal(t, p.OwnerID+1, entries[0].ContextMap()["editor_id"])
}

func TestDeleteRemovesEverything(t *testing.T) {
	store, _, _ := newTestStore(t, Options{})
	ctx := context.Background()

	p, err := store.CreateProject(ctx, sampleInput())
	require.NoError(t, err)
	require.NoError(t, store.DeleteProject(ctx, p.ID))

	_, err = store.GetProjectByID(ctx, p.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	found, err := store.GetProjectsByKeyword(ctx, "web")
	require.NoError(t, err)
	assert.Empty(t, found)

	entries, err := store.ListAllWithEmbeddings(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	status, err := store.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Tags)

	assert.ErrorIs(t, store.DeleteProject(ctx, p.ID), types.ErrNotFound)
}

func TestTagsIdempotent(t *testing.T) {
	store, _, _ := newTestStore(t, Options{})
	ctx := context.Background()

	p, err := store.CreateProject(ctx, sampleInput())
	require.NoError(t, err)

	require.NoError(t, store.AddTags(ctx, p.ID, []string{"Go", "go", "Go"}))
	require.NoError(t, store.AddTags(ctx, p.ID, []string{"Go"}))
	require.NoError(t, store.RemoveTags(ctx, p.ID, []string{"absent"}))

	got, err := store.GetProjectByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "frontend", "go", "web"}, got.Tags)

	require.NoError(t, store.RemoveTags(ctx, p.ID, []string{"Go", "web"}))
	got, err = store.GetProjectByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"frontend", "go"}, got.Tags)

	assert.ErrorIs(t, store.AddTags(ctx, p.ID+1, []string{"x"}), types.ErrNotFound)
	assert.ErrorIs(t, store.AddTags(ctx, p.ID, []string{"ok", " "}), types.ErrValidation)

	// The batch with a malformed tag wrote nothing
	got, err = store.GetProjectByID(ctx, p.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.Tags, "ok")
}

func TestGetProjectsByKeyword(t *testing.T) {
	store, _, _ := newTestStore(t, Options{})
	ctx := context.Background()

	inputs := []types.ProjectInput{
		{Title: "Java Project", Description: "Backend services", OwnerID: 1},
		{Title: "Mobile App", Description: "An app with a JAVA backend", OwnerID: 1},
		{Title: "Data Pipeline", Description: "ETL jobs", Tags: []string{"javascript"}, OwnerID: 1},
		{Title: "Unrelated", Description: "Nothing here", OwnerID: 1},
	}
	var ids []int64
	for _, in := range inputs {
		p, err := store.CreateProject(ctx, in)
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	found, err := store.GetProjectsByKeyword(ctx, "java")
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, "Java Project", found[0].Title)
	assert.Equal(t, []int64{ids[0], ids[1], ids[2]}, []int64{found[0].ID, found[1].ID, found[2].ID})

	_, err = store.GetProjectsByKeyword(ctx, "   ")
	assert.ErrorIs(t, err, types.ErrEmptyQuery)
}

func TestListAllWithEmbeddingsSkipsForeignDimension(t *testing.T) {
	store, _, st := newTestStore(t, Options{})
	ctx := context.Background()

	good, err := store.CreateProject(ctx, sampleInput())
	require.NoError(t, err)
	odd, err := store.CreateProject(ctx, types.ProjectInput{Title: "Odd", Description: "legacy vector", OwnerID: 1})
	require.NoError(t, err)

	require.NoError(t, st.WithTx(ctx, func(tx storage.Tx) error {
		return tx.UpsertEmbedding(ctx, &storage.Embedding{ProjectID: odd.ID, Vector: []float32{1, 0, 0}})
	}))

	entries, err := store.ListAllWithEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ranker.Entry{ProjectID: good.ID, Vector: good.Embedding}, entries[0])

	pending, err := store.ListProjectsNeedingEmbedding(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []Pending{{ID: odd.ID, Description: "legacy vector"}}, pending)

	all, err := store.ListProjectsNeedingEmbedding(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGetProjectsSkipsMissing(t *testing.T) {
	store, _, _ := newTestStore(t, Options{})
	ctx := context.Background()

	a, err := store.CreateProject(ctx, types.ProjectInput{Title: "A", OwnerID: 1})
	require.NoError(t, err)
	b, err := store.CreateProject(ctx, types.ProjectInput{Title: "B", OwnerID: 1})
	require.NoError(t, err)

	got, err := store.GetProjects(ctx, []int64{b.ID, 999, a.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].Title)
	assert.Equal(t, "A", got[1].Title)
}

func TestSetEmbeddingChecksDescription(t *testing.T) {
	store, stub, _ := newTestStore(t, Options{})
	stub.SetFailing(true)
	ctx := context.Background()

	p, err := store.CreateProject(ctx, sampleInput())
	require.NoError(t, err)
	stub.SetFailing(false)

	emb, err := store.Embed(ctx, p.Description)
	require.NoError(t, err)

	applied, err := store.SetEmbedding(ctx, p.ID, "stale description", emb)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = store.SetEmbedding(ctx, p.ID, p.Description, emb)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := store.GetProjectByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, emb.Vector, got.Embedding)

	applied, err = store.SetEmbedding(ctx, p.ID+1, "", emb)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestIDsNeverReused(t *testing.T) {
	store, _, _ := newTestStore(t, Options{})
	ctx := context.Background()

	a, err := store.CreateProject(ctx, types.ProjectInput{Title: "A", OwnerID: 1})
	require.NoError(t, err)
	require.NoError(t, store.DeleteProject(ctx, a.ID))

	b, err := store.CreateProject(ctx, types.ProjectInput{Title: "B", OwnerID: 1})
	require.NoError(t, err)
	assert.Greater(t, b.ID, a.ID)
}
