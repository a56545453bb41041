package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordAndIsArchived(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := openTestLedger(t)

	url := "https://www.mingpaocanada.com/tor/htm/News/20250101/HK-gaa1_r.htm"

	archived, err := l.IsArchived(ctx, url)
	require.NoError(t, err)
	require.False(t, archived)

	require.NoError(t, l.RecordUpload(ctx, url, "mingpao-2025-01", "20250101/HK-gaa1_r.htm", "Headline Text"))

	archived, err = l.IsArchived(ctx, url)
	require.NoError(t, err)
	require.True(t, archived)

	title, err := l.TitleByKey(ctx, "20250101/HK-gaa1_r.htm")
	require.NoError(t, err)
	require.Equal(t, "Headline Text", title)
}

func TestRecordUpload_Upsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := openTestLedger(t)

	url := "https://example.com/a"
	require.NoError(t, l.RecordUpload(ctx, url, "b1", "k1", ""))
	require.NoError(t, l.RecordUpload(ctx, url, "b1", "k1", "Second Title"))

	n, err := l.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	title, err := l.TitleByKey(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, "Second Title", title)
}

func TestArchivedURLs_Snapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := openTestLedger(t)

	require.NoError(t, l.RecordUpload(ctx, "u1", "b", "k1", ""))
	require.NoError(t, l.RecordUpload(ctx, "u2", "b", "k2", ""))

	set, err := l.ArchivedURLs(ctx)
	require.NoError(t, err)
	require.Len(t, set, 2)
	require.Contains(t, set, "u1")
	require.Contains(t, set, "u2")
}

func TestTitlesByKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := openTestLedger(t)

	require.NoError(t, l.RecordUpload(ctx, "u1", "b", "k1", "T1"))
	require.NoError(t, l.RecordUpload(ctx, "u2", "b", "k2", ""))
	require.NoError(t, l.RecordUpload(ctx, "u3", "b", "k3", "T3"))

	titles, err := l.TitlesByKeys(ctx, []string{"k1", "k2", "k3", "k4"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"k1": "T1", "k3": "T3"}, titles)

	titles, err = l.TitlesByKeys(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, titles)
}

func TestProgressCursor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := openTestLedger(t)

	date, err := l.LastProcessedDate(ctx)
	require.NoError(t, err)
	require.Empty(t, date)

	require.NoError(t, l.SetLastProcessedDate(ctx, "20250101"))
	require.NoError(t, l.SetLastProcessedDate(ctx, "20250102"))

	date, err = l.LastProcessedDate(ctx)
	require.NoError(t, err)
	require.Equal(t, "20250102", date)
}

func TestOpen_MigratesLegacySchema(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")

	// Legacy layout: uploads without the title column, no progress table.
	db, err := sqlx.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		CREATE TABLE uploads (
			url       TEXT PRIMARY KEY,
			ia_bucket TEXT,
			ia_key    TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO uploads (url, ia_bucket, ia_key) VALUES ('u1', 'b', 'k')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	l, err := Open(ctx, path)
	require.NoError(t, err)
	defer l.Close()

	archived, err := l.IsArchived(ctx, "u1")
	require.NoError(t, err)
	require.True(t, archived)

	title, err := l.TitleByKey(ctx, "k")
	require.NoError(t, err)
	require.Empty(t, title)

	require.NoError(t, l.RecordUpload(ctx, "u1", "b", "k", "now titled"))
	title, err = l.TitleByKey(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "now titled", title)
}

func TestConcurrentUpserts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := openTestLedger(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url := "https://example.com/" + string(rune('a'+i))
			require.NoError(t, l.RecordUpload(ctx, url, "b", "k", ""))
			_, err := l.IsArchived(ctx, url)
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := l.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 8, n)
}
