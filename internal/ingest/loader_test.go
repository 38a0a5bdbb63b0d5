package ingest

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/touchpoints/internal/domain"
	"example.com/touchpoints/internal/persistence/sqlite"
)

type recordingStore struct {
	events  [][]domain.ActivityEvent
	persons [][]domain.Person
	failOn  int
	calls   int
}

func (s *recordingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.calls++
	if s.failOn == s.calls {
		return fmt.Errorf("%w: duplicate key", domain.ErrConstraintViolation)
	}
	return fn(ctx, s)
}

func (s *recordingStore) InsertEvents(_ context.Context, events []domain.ActivityEvent) error {
	s.events = append(s.events, append([]domain.ActivityEvent(nil), events...))
	return nil
}

func (s *recordingStore) InsertPersons(_ context.Context, persons []domain.Person) error {
	s.persons = append(s.persons, append([]domain.Person(nil), persons...))
	return nil
}

type countingSource struct {
	*ReaderSource
	commits int
}

func (s *countingSource) Commit(context.Context) error {
	s.commits++
	return nil
}

func lineFor(touchpoint string) string {
	return fmt.Sprintf(`{"customer_org_id":"org-1","account_id":"acct-1","touchpoint_id":%q,"timestamp":"2024-01-01T00:00:00Z",`+
		`"channel":"email","status":"done","record_type":"Email","direction":"IN","people":[],"involved_team_ids":[],"related_opportunity_ids":[]}`, touchpoint)
}

func input(lines ...string) *countingSource {
	return &countingSource{ReaderSource: NewReaderSource(strings.NewReader(strings.Join(lines, "\n")))}
}

func quietLogger(t *testing.T) Option {
	return WithLogger(log.New(testWriter{t}, "", 0))
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func TestImportEventsBatches(t *testing.T) {
	store := &recordingStore{}
	src := input(lineFor("a"), "", "   ", lineFor("b"), lineFor("c"), lineFor("d"), lineFor("e"))

	report, err := NewImporter(store, WithBatchSize(2), quietLogger(t)).ImportEvents(context.Background(), src)
	require.NoError(t, err)

	require.Equal(t, 5, report.Imported)
	require.Equal(t, 3, report.Batches)
	require.Equal(t, KindEvents, report.Kind)
	require.NotEqual(t, uuid.Nil, report.RunID)
	require.Len(t, store.events, 3)
	require.Len(t, store.events[2], 1)
	require.Equal(t, "e", store.events[2][0].TouchpointID)
	require.Equal(t, 3, src.commits)
}

func TestImportDefaultsBatchSize(t *testing.T) {
	store := &recordingStore{}
	lines := make([]string, 0, 1500)
	for i := range 1500 {
		lines = append(lines, lineFor(fmt.Sprintf("tp-%d", i)))
	}

	report, err := NewImporter(store, WithBatchSize(0), quietLogger(t)).ImportEvents(context.Background(), input(lines...))
	require.NoError(t, err)
	require.Equal(t, 1500, report.Imported)
	require.Len(t, store.events, 2)
	require.Len(t, store.events[0], DefaultBatchSize)
}

func TestImportAbortsOnMalformedLine(t *testing.T) {
	store := &recordingStore{}
	src := input(lineFor("a"), lineFor("b"), `{"broken":`, lineFor("c"))

	report, err := NewImporter(store, WithBatchSize(1), quietLogger(t)).ImportEvents(context.Background(), src)
	require.ErrorIs(t, err, domain.ErrParse)

	var lineErr *LineError
	require.ErrorAs(t, err, &lineErr)
	require.Equal(t, 3, lineErr.Line)
	require.True(t, strings.HasPrefix(err.Error(), "line 3: "))
	require.Equal(t, 2, report.Imported, "earlier batches stay committed")
}

func TestImportIgnoreErrorsSkipsMalformedLines(t *testing.T) {
	store := &recordingStore{}
	src := input(lineFor("a"), `{"broken":`, `{"timestamp":null}`, lineFor("b"), `not json`)

	report, err := NewImporter(store, WithIgnoreErrors(true), quietLogger(t)).ImportEvents(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 2, report.Imported)
	require.Equal(t, 3, report.Skipped)
	require.Equal(t, 1, src.commits)
}

func TestImportIgnoreErrorsNeverSwallowsBatchFailure(t *testing.T) {
	store := &recordingStore{failOn: 2}
	src := input(lineFor("a"), lineFor("b"), "", lineFor("c"), lineFor("d"), lineFor("e"))

	report, err := NewImporter(store, WithBatchSize(2), WithIgnoreErrors(true), quietLogger(t)).ImportEvents(context.Background(), src)
	require.ErrorIs(t, err, domain.ErrConstraintViolation)

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Equal(t, 4, batchErr.FirstLine)
	require.Equal(t, 5, batchErr.LastLine)
	require.Equal(t, 2, report.Imported)
	require.Equal(t, 1, report.Batches)
	require.Equal(t, 1, src.commits, "rejected batch is not acknowledged")
}

func TestImportPersons(t *testing.T) {
	store := &recordingStore{}
	src := input(
		`{"id":"p1","customer_org_id":"o","first_name":"A","last_name":"B","email_address":"a@b.c"}`,
		`{"id":"p2","customer_org_id":"o","first_name":"C","last_name":"D","email_address":"c@d.e","job_title":"CTO"}`,
	)

	report, err := NewImporter(store, quietLogger(t)).ImportPersons(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 2, report.Imported)
	require.Equal(t, KindPersons, report.Kind)
	require.Equal(t, "CTO", *store.persons[0][1].JobTitle)
}

func TestOpenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.jsonl")
	_, err := OpenFile(path)
	require.ErrorIs(t, err, ErrFileNotFound)
	require.EqualError(t, err, "file not found: "+path)
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func writeFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func TestImportFileIntoSQLite(t *testing.T) {
	store := openStore(t)
	lines := make([]string, 0, 120)
	for i := range 120 {
		lines = append(lines, lineFor(fmt.Sprintf("tp-%03d", i)))
	}
	src, err := OpenFile(writeFile(t, lines...))
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	report, err := NewImporter(store, WithBatchSize(50), quietLogger(t)).ImportEvents(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 120, report.Imported)

	page, err := domain.NewService(store).ListEvents(context.Background(), domain.ListEventsInput{
		OrgID: "org-1", AccountID: "acct-1", PageSize: 500,
	})
	require.NoError(t, err)
	require.Len(t, page.Events, 120)
}

func TestDuplicateInSameBatchFailsWholeBatch(t *testing.T) {
	store := openStore(t)
	src := input(lineFor("a"), lineFor("b"), lineFor("a"))

	_, err := NewImporter(store, quietLogger(t)).ImportEvents(context.Background(), src)
	require.ErrorIs(t, err, domain.ErrConstraintViolation)

	n, err := store.CountEvents(context.Background(), "org-1", "acct-1")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDuplicateAcrossBatchesFailsEvenWhenIgnoringErrors(t *testing.T) {
	store := openStore(t)
	src := input(lineFor("a"), lineFor("b"), lineFor("c"), lineFor("a"))

	report, err := NewImporter(store, WithBatchSize(2), WithIgnoreErrors(true), quietLogger(t)).ImportEvents(context.Background(), src)
	require.ErrorIs(t, err, domain.ErrConstraintViolation)
	require.Equal(t, 2, report.Imported)

	n, err := store.CountEvents(context.Background(), "org-1", "acct-1")
	require.NoError(t, err)
	require.Equal(t, 2, n, "second batch is rolled back as a whole")
}
