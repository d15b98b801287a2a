package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/infoburn/constants"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/repository"
)

func newIngestor(t *testing.T) (*Ingestor, repository.DocumentRepository) {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, common.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "ingest.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })
	require.NoError(t, db.Migrate(ctx))
	docs := repository.NewDocumentRepository(db, nil)
	return NewIngestor(docs, nil), docs
}

func TestSubmit_RejectsWithReason(t *testing.T) {
	ing, docs := newIngestor(t)
	ctx := context.Background()

	cases := []struct {
		name string
		sub  Submission
		want RejectReason
	}{
		{"missing case", Submission{Kind: "E", MediaType: constants.MediaMarkdown, Content: []byte("# x")}, RejectMissingCaseID},
		{"empty content", Submission{CaseID: "1", Kind: "E", MediaType: constants.MediaMarkdown, Content: []byte("  \n")}, RejectEmptyContent},
		{"pdf", Submission{CaseID: "1", Kind: "E", MediaType: "application/pdf", Content: []byte("%PDF")}, RejectUnsupportedMedia},
		{"unknown kind", Submission{CaseID: "1", Kind: "X", MediaType: constants.MediaPlain, Content: []byte("text")}, RejectUnknownKind},
		{"case id with spaces", Submission{CaseID: "Joao Silva 1980", Kind: "E", MediaType: constants.MediaPlain, Content: []byte("text")}, RejectInvalidCaseID},
		{"case id too long", Submission{CaseID: strings.Repeat("9", 65), Kind: "E", MediaType: constants.MediaPlain, Content: []byte("text")}, RejectInvalidCaseID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := ing.Submit(ctx, tc.sub)
			require.NoError(t, err)
			assert.False(t, res.Accepted)
			assert.Equal(t, tc.want, res.Reason)
			assert.NotEmpty(t, res.Detail)
		})
	}

	cases2, err := docs.ListCases(ctx)
	require.NoError(t, err)
	assert.Empty(t, cases2)
}

func TestSubmit_AcceptsAndDeduplicates(t *testing.T) {
	ing, docs := newIngestor(t)
	ctx := context.Background()
	sub := Submission{CaseID: " 1234 ", Kind: "alta", MediaType: "text/markdown; charset=utf-8", Filename: "1234A.md", Content: []byte("# Alta\nok")}

	first, err := ing.Submit(ctx, sub)
	require.NoError(t, err)
	require.True(t, first.Accepted)
	assert.False(t, first.Deduplicated)
	assert.Equal(t, "1234", first.Document.CaseID)
	assert.Equal(t, constants.KindRelease, first.Document.Kind)
	assert.Equal(t, constants.MediaMarkdown, first.Document.MediaType)

	second, err := ing.Submit(ctx, sub)
	require.NoError(t, err)
	assert.True(t, second.Accepted)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Document.ID, second.Document.ID)

	stored, err := docs.ListByCase(ctx, "1234")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestIngestDirectory_FollowsInboxNaming(t *testing.T) {
	ing, docs := newIngestor(t)
	ctx := context.Background()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "1234E.md"), "# Entrada\nDoente admitido.")
	writeFile(t, filepath.Join(root, "1234BIC.txt"), "Boletim")
	writeFile(t, filepath.Join(root, "sub", "77O.html"), "<p>Óbito</p>")
	writeFile(t, filepath.Join(root, "notes.md"), "no suffix")
	writeFile(t, filepath.Join(root, "1234E.pdf"), "%PDF")
	writeFile(t, filepath.Join(root, ".hidden", "9E.md"), "hidden")
	writeFile(t, filepath.Join(root, "88A.md"), "   ")

	results, stats, err := ing.IngestDirectory(ctx, root, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), stats.Matched)
	assert.Equal(t, uint32(3), stats.Accepted)
	assert.Equal(t, uint32(1), stats.Rejected)
	assert.Equal(t, uint32(1), stats.Failed)
	assert.Len(t, results, 5)

	byCase, err := docs.ListByCase(ctx, "1234")
	require.NoError(t, err)
	require.Len(t, byCase, 2)
	kinds := []constants.DocumentKind{byCase[0].Kind, byCase[1].Kind}
	assert.ElementsMatch(t, []constants.DocumentKind{constants.KindAdmission, constants.KindProvisoryDeath}, kinds)

	_, again, err := ing.IngestDirectory(ctx, root, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), again.Deduplicated)
}

func TestIngestDirectory_RejectsStemThatIsNotACaseID(t *testing.T) {
	ing, docs := newIngestor(t)
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Joao Silva 1980-01-01E.md"), "# Entrada\nDoente admitido.")

	results, stats, err := ing.IngestDirectory(ctx, root, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stats.Matched)
	assert.Equal(t, uint32(1), stats.Rejected)
	assert.Zero(t, stats.Accepted)
	require.Len(t, results, 1)
	assert.Equal(t, RejectInvalidCaseID, results[0].Result.Reason)
	assert.NotContains(t, results[0].Result.Detail, "Joao")

	cases, err := docs.ListCases(ctx)
	require.NoError(t, err)
	assert.Empty(t, cases)
}

func TestWatch_IngestsNewFiles(t *testing.T) {
	ing, docs := newIngestor(t)
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- ing.Watch(ctx, WatchConfig{Roots: []string{root}, Debounce: 20 * time.Millisecond}, func(caseID string) {
			seen <- caseID
		})
	}()

	// Give the watcher time to register the root.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(root, "5150E.md"), "# Entrada\nqueimadura")

	select {
	case id := <-seen:
		assert.Equal(t, "5150", id)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the new file")
	}
	stored, err := docs.ListByCase(context.Background(), "5150")
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
