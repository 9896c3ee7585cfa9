package journal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"safevault/core/types"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open("sqlite", dsn)
	require.NoError(t, err)
	j, err := New(db, nil)
	require.NoError(t, err)
	j.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return j
}

func TestAppendBuildsChain(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	first, err := j.Append(ctx, &types.Event{Type: "vault.deposited", Attributes: map[string]string{"owner": "safe1abc", "amount": "100"}})
	require.NoError(t, err)
	require.EqualValues(t, 1, first.Sequence)
	require.Empty(t, first.PrevHash)
	require.Len(t, first.Hash, 64)

	second, err := j.Append(ctx, &types.Event{Type: "vault.borrowed", Attributes: map[string]string{"owner": "safe1abc", "amount": "40"}})
	require.NoError(t, err)
	require.EqualValues(t, 2, second.Sequence)
	require.Equal(t, first.Hash, second.PrevHash)

	require.NoError(t, j.Verify(ctx))

	recent, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "vault.borrowed", recent[0].Type)
	require.Equal(t, "40", recent[0].Attrs["amount"])
	require.Equal(t, "safe1abc", recent[1].Owner)
}

func TestVerifyDetectsTampering(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := j.Append(ctx, &types.Event{Type: "vault.deposited", Attributes: map[string]string{"amount": fmt.Sprint(i + 1)}})
		require.NoError(t, err)
	}
	require.NoError(t, j.db.Model(&Entry{}).Where("sequence = ?", 2).Update("attributes", `{"amount":"999"}`).Error)

	err := j.Verify(ctx)
	require.True(t, errors.Is(err, ErrChainBroken), "expected chain break, got %v", err)
}

func TestEmitRecordsVaultEvents(t *testing.T) {
	j := newTestJournal(t)
	j.Emit(&types.Event{Type: "vault.initialized", Attributes: map[string]string{"admin": "safe1admin"}})
	j.Emit(nil)

	recent, err := j.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "vault.initialized", recent[0].Type)
}

func TestAppendRejectsUntypedEvent(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.Append(context.Background(), &types.Event{})
	require.Error(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
}

func TestExportParquet(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := j.Append(ctx, &types.Event{Type: "vault.deposited", Attributes: map[string]string{"amount": fmt.Sprint(i + 1)}})
		require.NoError(t, err)
	}
	path := filepath.Join(t.TempDir(), "journal.parquet")
	rows, err := j.ExportParquet(ctx, path)
	require.NoError(t, err)
	require.Equal(t, 3, rows)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("PAR1")))
	require.True(t, bytes.HasSuffix(data, []byte("PAR1")))

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetEntry), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.EqualValues(t, 3, pr.GetNumRows())

	out := make([]parquetEntry, 3)
	require.NoError(t, pr.Read(&out))
	for i, row := range out {
		require.EqualValues(t, i+1, row.Sequence)
		require.Equal(t, "vault.deposited", row.Type)
		require.NotEmpty(t, row.Hash)
	}
}
