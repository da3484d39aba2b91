package training

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DateLayout is the observation date format in CSV exports
const DateLayout = "2006-01-02"

// Record is one observation of a (country, product) series
type Record struct {
	Date    time.Time `db:"date"`
	Country string    `db:"country"`
	Product string    `db:"name"`
	Value   float64   `db:"value"`
}

// Source yields the raw observations to train on
type Source interface {
	Records(ctx context.Context) ([]Record, error)
}

// CSVSource reads records from a CSV file with a Date,Country,Name,Value header
type CSVSource struct {
	Path string
}

// NewCSVSource creates a CSV source for path
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{Path: path}
}

// Records implements Source
func (s *CSVSource) Records(ctx context.Context) ([]Record, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open observations: %w", err)
	}
	defer f.Close()

	return ReadCSV(ctx, f)
}

// ReadCSV parses records from r. Columns are located by header name so
// exports with extra columns are accepted.
func ReadCSV(ctx context.Context, r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	idx := make([]int, 0, 4)
	for _, name := range []string{"Date", "Country", "Name", "Value"} {
		i, ok := cols[name]
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		idx = append(idx, i)
	}

	var records []Record
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		field := func(i int) string {
			if idx[i] >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx[i]])
		}

		date, err := time.Parse(DateLayout, field(0))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid date: %w", line, err)
		}
		value, err := strconv.ParseFloat(field(3), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid value: %w", line, err)
		}

		records = append(records, Record{
			Date:    date,
			Country: field(1),
			Product: field(2),
			Value:   value,
		})
	}

	return records, nil
}

// PostgresSource reads records with a SQL query returning date, country, name, value
type PostgresSource struct {
	db      *sqlx.DB
	query   string
	timeout time.Duration
}

// NewPostgresSource creates a source over an open connection
func NewPostgresSource(db *sqlx.DB, query string, timeout time.Duration) *PostgresSource {
	return &PostgresSource{
		db:      db,
		query:   query,
		timeout: timeout,
	}
}

// OpenPostgres connects to dsn and verifies the connection
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Records implements Source
func (s *PostgresSource) Records(ctx context.Context) ([]Record, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var records []Record
	if err := s.db.SelectContext(ctx, &records, s.query); err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}

	return records, nil
}
