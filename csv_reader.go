package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTooManyAccounts     = errors.New("too many accounts")
	ErrTooManyTransactions = errors.New("too many transactions per account")
)

var maxAmount = decimal.NewFromInt(MaxTransactionAmount)

// Limits bounds the size of a feed. Zero or negative values disable a check.
type Limits struct {
	MaxAccounts               int
	MaxTransactionsPerAccount int
}

// CSVReader turns a "Time,Amount,Account" feed into transactions. The first
// line is a header. Malformed rows are logged and skipped.
type CSVReader struct {
	limits Limits
	logger *slog.Logger
}

func NewCSVReader(limits Limits, logger *slog.Logger) *CSVReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVReader{limits: limits, logger: logger}
}

func (c *CSVReader) ReadFile(path string) ([]Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		c.logger.Error("open transaction feed", "path", path, "err", err)
		return nil, err
	}
	defer f.Close()

	return c.Read(f)
}

// Read parses the feed and enforces the configured limits.
func (c *CSVReader) Read(r io.Reader) ([]Transaction, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	// header
	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []Transaction{}, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	transactions := make([]Transaction, 0, 1024)
	perAccount := make(map[int64]int)

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				c.skip("fields", perr.Line, err)
				continue
			}
			return nil, fmt.Errorf("read transactions: %w", err)
		}

		line, _ := cr.FieldPos(0)
		tx, reason, err := parseRecord(record)
		if err != nil {
			c.skip(reason, line, err)
			continue
		}

		transactions = append(transactions, tx)
		perAccount[tx.AccountID]++
	}

	if err := c.checkLimits(perAccount); err != nil {
		return nil, err
	}

	c.logger.Debug("transaction feed loaded", "transactions", len(transactions), "accounts", len(perAccount))
	return transactions, nil
}

func (c *CSVReader) checkLimits(perAccount map[int64]int) error {
	if c.limits.MaxAccounts > 0 && len(perAccount) > c.limits.MaxAccounts {
		return fmt.Errorf("%w: the maximum number of accounts allowed in the input file is: %d",
			ErrTooManyAccounts, c.limits.MaxAccounts)
	}

	if c.limits.MaxTransactionsPerAccount > 0 {
		for _, n := range perAccount {
			if n > c.limits.MaxTransactionsPerAccount {
				return fmt.Errorf("%w: the maximum number of transactions allowed per account is: %d",
					ErrTooManyTransactions, c.limits.MaxTransactionsPerAccount)
			}
		}
	}
	return nil
}

func (c *CSVReader) skip(reason string, line int, err error) {
	ingestRowsSkipped.WithLabelValues(reason).Inc()
	c.logger.Warn("skipping malformed row", "line", line, "reason", reason, "err", err)
}

// parseRecord returns the transaction or the reason the row was rejected.
func parseRecord(record []string) (Transaction, string, error) {
	if len(record) != 3 {
		return Transaction{}, "fields", fmt.Errorf("expected 3 fields, got %d", len(record))
	}

	ts, err := parseTimestamp(strings.TrimSpace(record[0]))
	if err != nil {
		return Transaction{}, "timestamp", err
	}

	amount, err := parseAmount(strings.TrimSpace(record[1]))
	if err != nil {
		return Transaction{}, "amount", err
	}

	accountID, err := strconv.ParseInt(strings.TrimSpace(record[2]), 10, 64)
	if err != nil {
		return Transaction{}, "account", err
	}

	return NewTransaction(ts, amount, accountID), "", nil
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(TimeLayout, s)
	if err == nil {
		return ts, nil
	}
	if short, shortErr := time.Parse("15:04", s); shortErr == nil {
		return short, nil
	}
	return time.Time{}, err
}

// parseAmount accepts whole, non-negative amounts in the smallest currency unit.
func parseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("amount %s is not a whole number of units", s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %s is negative", s)
	}
	if d.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("amount %s is above the ceiling %d", s, MaxTransactionAmount)
	}
	return d.IntPart(), nil
}
