package main

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCSVReader() *CSVReader {
	return NewCSVReader(DefaultConfig().Limits(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func tod(h, m, s int) time.Time {
	return time.Date(0, 1, 1, h, m, s, 0, time.UTC)
}

func writeFeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCSVReader_ReadFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []Transaction
	}{
		{
			name: "valid feed",
			content: "Time,Amount,Account\n" +
				"10:00:00,1000,1\n" +
				"10:00:01,2000,2\n" +
				"10:00:02,3000,3",
			want: []Transaction{
				NewTransaction(tod(10, 0, 0), 1000, 1),
				NewTransaction(tod(10, 0, 1), 2000, 2),
				NewTransaction(tod(10, 0, 2), 3000, 3),
			},
		},
		{
			name:    "header only",
			content: "Time,Amount,Account\n",
			want:    []Transaction{},
		},
		{
			name:    "empty file",
			content: "",
			want:    []Transaction{},
		},
		{
			name: "malformed rows are skipped",
			content: "Time,Amount,AccountId\n" +
				"10:00:00,1000,1\n" +
				"InvalidLine\n" +
				"10:00:01,1000,1,extra\n" +
				"25:00:00,1000,1\n" +
				"10:00:01,ten,1\n" +
				"10:00:01,10.5,1\n" +
				"10:00:01,-10,1\n" +
				"10:00:01,10,abc\n" +
				"10:00:02,3000,3",
			want: []Transaction{
				NewTransaction(tod(10, 0, 0), 1000, 1),
				NewTransaction(tod(10, 0, 2), 3000, 3),
			},
		},
		{
			name: "whitespace, whole decimals and short times",
			content: "Time,Amount,Account\n" +
				"10:00:00, 1000.00, 4\n" +
				"10:01,5,0\n",
			want: []Transaction{
				NewTransaction(tod(10, 0, 0), 1000, 4),
				NewTransaction(tod(10, 1, 0), 5, 0),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newTestCSVReader().ReadFile(writeFeed(t, tt.content))

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCSVReader_SkippedRowsAreCounted(t *testing.T) {
	before := testutil.ToFloat64(ingestRowsSkipped.WithLabelValues("amount"))

	_, err := newTestCSVReader().Read(strings.NewReader("Time,Amount,Account\n10:00:00,1.5,1\n10:00:00,x,1\n"))

	require.NoError(t, err)
	assert.Equal(t, before+2, testutil.ToFloat64(ingestRowsSkipped.WithLabelValues("amount")))
}

func TestCSVReader_AmountCeiling(t *testing.T) {
	feed := fmt.Sprintf("Time,Amount,Account\n10:00:00,%d,1\n10:00:01,%d,1\n10:00:02,%d,1\n10:00:03,9223372036854775808,1\n",
		MaxTransactionAmount, MaxTransactionAmount+1, int64(math.MaxInt64))
	before := testutil.ToFloat64(ingestRowsSkipped.WithLabelValues("amount"))

	got, err := newTestCSVReader().Read(strings.NewReader(feed))

	require.NoError(t, err)
	assert.Equal(t, []Transaction{NewTransaction(tod(10, 0, 0), MaxTransactionAmount, 1)}, got)
	assert.Equal(t, before+3, testutil.ToFloat64(ingestRowsSkipped.WithLabelValues("amount")))
}

func TestCSVReader_SkippedRowsAreLogged(t *testing.T) {
	var logs bytes.Buffer
	reader := NewCSVReader(Limits{}, slog.New(slog.NewTextHandler(&logs, nil)))

	_, err := reader.Read(strings.NewReader("Time,Amount,Account\nInvalidLine\n"))

	require.NoError(t, err)
	assert.Contains(t, logs.String(), "skipping malformed row")
	assert.Contains(t, logs.String(), "reason=fields")
}

func TestCSVReader_FileNotPresent(t *testing.T) {
	_, err := newTestCSVReader().ReadFile(filepath.Join(t.TempDir(), "non_existent_file.csv"))

	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestCSVReader_LargeValidFile(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("Time,Amount,AccountId\n")
	for i := 0; i < DefaultMaxAccounts; i++ {
		fmt.Fprintf(&sb, "10:00:%02d,%d,%d\n", i%60, 1000+i, i%100)
	}

	got, err := newTestCSVReader().ReadFile(writeFeed(t, sb.String()))

	require.NoError(t, err)
	require.Len(t, got, DefaultMaxAccounts)
	assert.Equal(t, NewTransaction(tod(10, 0, 0), 1000, 0), got[0])
	assert.Equal(t, NewTransaction(tod(10, 0, 19), 5999, 99), got[4999])
}

func TestCSVReader_Limits(t *testing.T) {
	t.Run("too many accounts", func(t *testing.T) {
		var sb strings.Builder
		sb.WriteString("Time,Amount,Account\n")
		for i := 0; i <= DefaultMaxAccounts; i++ {
			fmt.Fprintf(&sb, "10:00:00,1,%d\n", i)
		}

		_, err := newTestCSVReader().Read(strings.NewReader(sb.String()))

		assert.ErrorIs(t, err, ErrTooManyAccounts)
		assert.Contains(t, err.Error(), fmt.Sprintf("the maximum number of accounts allowed in the input file is: %d", DefaultMaxAccounts))
	})

	t.Run("too many transactions per account", func(t *testing.T) {
		var sb strings.Builder
		sb.WriteString("Time,Amount,Account\n")
		for i := 0; i <= DefaultMaxTransactionsPerAccount; i++ {
			sb.WriteString("10:00:00,1,1\n")
		}

		_, err := newTestCSVReader().Read(strings.NewReader(sb.String()))

		assert.ErrorIs(t, err, ErrTooManyTransactions)
		assert.Contains(t, err.Error(), fmt.Sprintf("the maximum number of transactions allowed per account is: %d", DefaultMaxTransactionsPerAccount))
	})

	t.Run("exactly at the limits", func(t *testing.T) {
		reader := NewCSVReader(Limits{MaxAccounts: 2, MaxTransactionsPerAccount: 2}, nil)

		got, err := reader.Read(strings.NewReader("h\n10:00:00,1,1\n10:00:01,1,1\n10:00:00,1,2\n"))

		require.NoError(t, err)
		assert.Len(t, got, 3)
	})
}
