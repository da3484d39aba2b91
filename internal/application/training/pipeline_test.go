package training

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exporthaven/forecaster/internal/artifacts"
	"github.com/exporthaven/forecaster/internal/domain/forecast"
	"github.com/exporthaven/forecaster/internal/models/holtwinters"
)

type staticSource []Record

func (s staticSource) Records(ctx context.Context) ([]Record, error) {
	return s, nil
}

func monthly(country, product string, n int, base float64) []Record {
	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{
			Date:    start.AddDate(0, i, 0),
			Country: country,
			Product: product,
			Value:   base + 10*float64(i%12),
		}
	}
	return out
}

func csvOf(records []Record) string {
	var b strings.Builder
	b.WriteString("Date,Country,Name,Value\n")
	for _, r := range records {
		fmt.Fprintf(&b, "%s,%s,%s,%g\n", r.Date.Format(DateLayout), r.Country, r.Product, r.Value)
	}
	return b.String()
}

func TestReadCSV(t *testing.T) {
	input := "Value,Name,Country,Date,Extra\n" +
		"12.5,Wine,France,2020-01-01,x\n" +
		"13,Wine,France,2020-02-01,y\n"

	records, err := ReadCSV(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, Record{
		Date:    time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Country: "France",
		Product: "Wine",
		Value:   12.5,
	}, records[0])
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		errorContains string
	}{
		{"empty", "", "failed to read header"},
		{"missing column", "Date,Country,Value\n", `missing column "Name"`},
		{"bad date", "Date,Country,Name,Value\n01/02/2020,A,B,1\n", "line 2: invalid date"},
		{"bad value", "Date,Country,Name,Value\n2020-01-01,A,B,lots\n", "line 2: invalid value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(context.Background(), strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestPipeline_Run(t *testing.T) {
	var records []Record
	records = append(records, monthly("Chile", "Copper", 48, 500)...)
	records = append(records, monthly("Chile", "Grapes", 48, 80)...)
	records = append(records, monthly("Chile", "Salmon", 12, 50)...) // too short
	records = append(records, monthly("Peru", "Gold", 48, 900)...)

	// Interleave countries so encounter order is not just file order
	records[0], records[len(records)-1] = records[len(records)-1], records[0]

	dir := t.TempDir()
	path := filepath.Join(dir, "observations.csv")
	require.NoError(t, artifacts.WriteFile(path, []byte(csvOf(records))))

	cfg := DefaultConfig()
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.Strip = holtwinters.StripValues

	report, err := NewPipeline(NewCSVSource(path), cfg, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Count(SeriesFitted))
	assert.Equal(t, 1, report.Count(SeriesSkipped))
	require.Len(t, report.Artifacts, 2)

	assert.Equal(t, "Peru", report.Artifacts[0].Country, "first-seen order")
	assert.Equal(t, filepath.Join(cfg.OutputDir, "models_Peru.pkl"), report.Artifacts[0].Path)
	assert.True(t, strings.HasPrefix(report.Artifacts[0].Digest, "sha256:"))

	for _, s := range report.Series {
		if s.Status == SeriesFitted {
			require.NotNil(t, s.Evaluation)
			assert.Equal(t, 38, s.Train)
			assert.Equal(t, 10, s.Test)
		}
	}

	bundle, err := artifacts.NewLoader().Load(context.Background(), "Chile", report.Artifacts[1].Path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Copper", "Grapes"}, bundle.Products())
	assert.Equal(t, report.Artifacts[1].Digest, bundle.Digest)

	model, ok := bundle.Model("Copper")
	require.True(t, ok)
	last, ok := model.LastTrainingTimestamp()
	require.True(t, ok)
	assert.Equal(t, time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC), last, "index ends at the train split")

	hw := model.(*holtwinters.Model)
	assert.False(t, hw.TrainingDataRetained())
}

func TestPipeline_StripAllYieldsUnservableBundle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.Strip = holtwinters.StripAll

	report, err := NewPipeline(staticSource(monthly("Chad", "Oil", 36, 10)), cfg, nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Artifacts, 1)

	bundle, err := artifacts.NewLoader().Load(context.Background(), "Chad", report.Artifacts[0].Path)
	require.NoError(t, err)

	result, err := forecast.NewEngine(1, nil).ForecastAll(context.Background(), bundle, 1)
	require.NoError(t, err)
	assert.Empty(t, result.Predictions)
	assert.Equal(t, 1, result.Count(forecast.OutcomeSkipped))
}

func TestPipeline_ShortTrainSplitIsSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.MinObservations = 24

	// 24 observations pass a lowered minimum but leave 19 for training
	report, err := NewPipeline(staticSource(monthly("Fiji", "Sugar", 24, 10)), cfg, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Count(SeriesSkipped))
	assert.Contains(t, report.Series[0].Reason, "insufficient data")
	assert.Empty(t, report.Artifacts)
}

func TestPostgresSource(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db := sqlx.NewDb(mockDB, "sqlmock")
	query := "SELECT date, country, name, value FROM trade_observations ORDER BY date"

	d := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"date", "country", "name", "value"}).
		AddRow(d, "Kenya", "Tea", 1200.5).
		AddRow(d, "Kenya", "Roses", 800.0)
	mock.ExpectQuery("SELECT date, country, name, value FROM trade_observations").WillReturnRows(rows)

	records, err := NewPostgresSource(db, query, time.Second).Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, Record{Date: d, Country: "Kenya", Product: "Tea", Value: 1200.5}, records[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_QueryError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectQuery("SELECT").WillReturnError(fmt.Errorf("relation does not exist"))

	_, err = NewPostgresSource(sqlx.NewDb(mockDB, "sqlmock"), "SELECT 1", 0).Records(context.Background())
	assert.ErrorContains(t, err, "failed to query observations")
}

func TestOpenPostgres_RequiresDSN(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "")
	assert.ErrorContains(t, err, "DSN is required")
}
