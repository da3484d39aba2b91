package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exporthaven/forecaster/internal/domain/forecast"
	"github.com/exporthaven/forecaster/internal/metrics"
	"github.com/exporthaven/forecaster/internal/models/holtwinters"
)

func fitted(t *testing.T, base float64) *holtwinters.Model {
	t.Helper()
	start := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	series := make([]holtwinters.Observation, 36)
	for i := range series {
		series[i] = holtwinters.Observation{Time: start.AddDate(0, i, 0), Value: base + float64(i%12)}
	}
	m, err := holtwinters.Fit(series, holtwinters.DefaultFitConfig())
	require.NoError(t, err)
	return m
}

func testBundle(t *testing.T, country string) *forecast.Bundle {
	return forecast.NewBundle(country,
		forecast.Entry{Product: "Wine", Model: fitted(t, 300)},
		forecast.Entry{Product: "Beef", Model: fitted(t, 100).Strip(holtwinters.StripValues)},
		forecast.Entry{Product: "Coal", Model: fitted(t, 200).Strip(holtwinters.StripAll)},
	)
}

type fakeFetcher struct {
	calls atomic.Int32
	data  []byte
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	return f.data, f.err
}

type memBlobs struct {
	mu   sync.Mutex
	m    map[string][]byte
	gets int
	err  error
}

func (b *memBlobs) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	if b.err != nil {
		return nil, false, b.err
	}
	v, ok := b.m[key]
	return v, ok, nil
}

func (b *memBlobs) Set(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.m == nil {
		b.m = map[string][]byte{}
	}
	b.m[key] = data
	return nil
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "model_Australia.pkl", LocalName("Australia"))
	assert.Equal(t, "models_Australia.pkl", RemoteName("Australia"))
	assert.Equal(t, filepath.Join("fitted_sarima_models", "model_New Zealand.pkl"), LocalPath(DefaultCacheDir, "New Zealand"))
	assert.Equal(t, "https://storage.googleapis.com/exporthaven_models/models_Australia.pkl", RemoteURL(DefaultBaseURL, "Australia"))
	assert.Equal(t, "http://x/models_viet nam.pkl", RemoteURL("http://x/", "viet nam"), "country is used verbatim")
}

func TestCodec_RoundTrip(t *testing.T) {
	original := testBundle(t, "Australia")

	data, err := EncodeBytes(original)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, "Australia", decoded.Country)
	assert.Equal(t, original.Products(), decoded.Products())
	assert.Contains(t, decoded.Digest, "sha256:")

	for _, e := range original.Entries {
		got, ok := decoded.Model(e.Product)
		require.True(t, ok)

		want, err := e.Model.Forecast(12)
		require.NoError(t, err)
		have, err := got.Forecast(12)
		require.NoError(t, err)
		assert.InDeltaSlice(t, want, have, 1e-9)

		_, wantTS := e.Model.LastTrainingTimestamp()
		_, haveTS := got.LastTrainingTimestamp()
		assert.Equal(t, wantTS, haveTS, e.Product)
	}
}

func TestCodec_Rejects(t *testing.T) {
	_, err := Decode([]byte("\x80\x04\x95 pickle"))
	assert.Error(t, err)

	gz := func(v any) []byte {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		require.NoError(t, json.NewEncoder(zw).Encode(v))
		require.NoError(t, zw.Close())
		return buf.Bytes()
	}

	_, err = Decode(gz(map[string]any{"format": "other/v9"}))
	assert.ErrorContains(t, err, "unsupported artifact format")

	_, err = Decode(gz(map[string]any{
		"format": FormatV1,
		"models": []map[string]any{{"product": "x", "kind": "sarimax", "state": map[string]any{}}},
	}))
	assert.ErrorContains(t, err, "unknown model kind")

	m := fitted(t, 5)
	dup, err := EncodeBytes(forecast.NewBundle("x",
		forecast.Entry{Product: "P", Model: m},
		forecast.Entry{Product: "P", Model: m},
	))
	require.NoError(t, err)
	_, err = Decode(dup)
	assert.ErrorContains(t, err, `duplicate product "P"`)

	err = Encode(&bytes.Buffer{}, forecast.NewBundle("x", forecast.Entry{Product: "p", Model: nil}))
	assert.Error(t, err)
}

func TestLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LocalName("Chile"))
	data, err := EncodeBytes(testBundle(t, "Chile"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	bundle, err := NewLoader().Load(context.Background(), "Chile", path)
	require.NoError(t, err)
	assert.Equal(t, 3, bundle.Len())
	assert.Equal(t, path, bundle.Path)

	t.Run("corrupt file", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.pkl")
		require.NoError(t, os.WriteFile(bad, []byte("not an artifact"), 0644))

		_, err := NewLoader().Load(context.Background(), "Chile", bad)
		require.Error(t, err)
		assert.ErrorIs(t, err, forecast.ErrCorruptArtifact)

		var ce *CorruptError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "Chile", ce.Country)
		assert.Equal(t, bad, ce.Path)
		assert.Contains(t, err.Error(), "Chile")
	})

	t.Run("duplicate products", func(t *testing.T) {
		dup := filepath.Join(dir, "dup.pkl")
		data, err := EncodeBytes(forecast.NewBundle("Chile",
			forecast.Entry{Product: "Wine", Model: fitted(t, 300)},
			forecast.Entry{Product: "Wine", Model: fitted(t, 100)},
		))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(dup, data, 0644))

		_, err = NewLoader().Load(context.Background(), "Chile", dup)
		assert.ErrorIs(t, err, forecast.ErrCorruptArtifact)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewLoader().Load(context.Background(), "Chile", filepath.Join(dir, "nope.pkl"))
		assert.ErrorIs(t, err, forecast.ErrCorruptArtifact)
	})
}

func TestResolver_CacheHitSkipsFetch(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{data: []byte("blob")}
	reg := metrics.New(prometheus.NewRegistry())
	r := NewResolver(dir, "http://store/", fetcher, WithMetrics(reg))

	first, err := r.Resolve(context.Background(), "Australia")
	require.NoError(t, err)
	assert.Equal(t, LocalPath(dir, "Australia"), first)
	assert.Equal(t, int32(1), fetcher.calls.Load())

	second, err := r.Resolve(context.Background(), "Australia")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), fetcher.calls.Load(), "second resolve must not fetch")

	got, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestResolver_CreatesCacheDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	r := NewResolver(dir, "http://store/", &fakeFetcher{data: []byte("x")})

	path, err := r.Resolve(context.Background(), "Peru")
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestResolver_FetchFailure(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{err: &StatusError{URL: "http://store/models_Atlantis.pkl", StatusCode: 404}}
	r := NewResolver(dir, "http://store/", fetcher)

	_, err := r.Resolve(context.Background(), "Atlantis")
	require.Error(t, err)
	assert.ErrorIs(t, err, forecast.ErrArtifactUnavailable)

	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "Atlantis", ue.Country)
	assert.Equal(t, "http://store/models_Atlantis.pkl", ue.Location)
	assert.True(t, IsNotFound(err))

	assert.NoFileExists(t, LocalPath(dir, "Atlantis"))
}

func TestResolver_BlobCacheTier(t *testing.T) {
	dir := t.TempDir()
	blobs := &memBlobs{m: map[string][]byte{"models_Kenya.pkl": []byte("shared")}}
	fetcher := &fakeFetcher{data: []byte("remote")}
	r := NewResolver(dir, "http://store/", fetcher, WithBlobCache(blobs))

	path, err := r.Resolve(context.Background(), "Kenya")
	require.NoError(t, err)
	assert.Equal(t, int32(0), fetcher.calls.Load())
	got, _ := os.ReadFile(path)
	assert.Equal(t, []byte("shared"), got)

	_, err = r.Resolve(context.Background(), "Ghana")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, []byte("remote"), blobs.m["models_Ghana.pkl"], "download is shared through the blob tier")
}

func TestResolver_BlobCacheErrorFallsBack(t *testing.T) {
	blobs := &memBlobs{err: errors.New("connection refused")}
	fetcher := &fakeFetcher{data: []byte("remote")}
	r := NewResolver(t.TempDir(), "http://store/", fetcher, WithBlobCache(blobs))

	_, err := r.Resolve(context.Background(), "Kenya")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestResolver_ConcurrentFirstResolve(t *testing.T) {
	dir := t.TempDir()
	r := NewResolver(dir, "http://store/", &fakeFetcher{data: []byte("same content")})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), "Brazil")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := os.ReadFile(LocalPath(dir, "Brazil"))
	require.NoError(t, err)
	assert.Equal(t, []byte("same content"), got)
}

func TestHTTPFetcher(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/models_Australia.pkl":
			w.Write([]byte("artifact"))
		case "/models_Big.pkl":
			w.Write(bytes.Repeat([]byte("x"), 64))
		case "/models_Slow.pkl":
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte("late"))
		case "/models_Broken.pkl":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := DefaultFetcherConfig()
	cfg.RPS = 0
	cfg.MaxBytes = 32
	cfg.Timeout = 50 * time.Millisecond

	t.Run("ok", func(t *testing.T) {
		f := NewHTTPFetcher(srv.Client(), cfg)
		data, err := f.Fetch(context.Background(), RemoteURL(srv.URL+"/", "Australia"))
		require.NoError(t, err)
		assert.Equal(t, []byte("artifact"), data)
	})

	t.Run("not found does not trip breaker", func(t *testing.T) {
		f := NewHTTPFetcher(srv.Client(), cfg)
		for i := 0; i < 5; i++ {
			_, err := f.Fetch(context.Background(), RemoteURL(srv.URL+"/", "Atlantis"))
			require.Error(t, err)
			assert.True(t, IsNotFound(err))
		}
		assert.Equal(t, gobreaker.StateClosed, f.BreakerState())
	})

	t.Run("server errors open breaker", func(t *testing.T) {
		f := NewHTTPFetcher(srv.Client(), cfg)
		for i := 0; i < 3; i++ {
			_, err := f.Fetch(context.Background(), RemoteURL(srv.URL+"/", "Broken"))
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, 500, se.StatusCode)
		}
		assert.Equal(t, gobreaker.StateOpen, f.BreakerState())

		before := hits.Load()
		_, err := f.Fetch(context.Background(), RemoteURL(srv.URL+"/", "Australia"))
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.Equal(t, before, hits.Load(), "open breaker must not reach the store")
	})

	t.Run("timeout", func(t *testing.T) {
		f := NewHTTPFetcher(srv.Client(), cfg)
		_, err := f.Fetch(context.Background(), RemoteURL(srv.URL+"/", "Slow"))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("size cap", func(t *testing.T) {
		f := NewHTTPFetcher(srv.Client(), cfg)
		_, err := f.Fetch(context.Background(), RemoteURL(srv.URL+"/", "Big"))
		assert.ErrorIs(t, err, ErrTooLarge)
	})
}

func TestRedisBlobCache(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisBlobCache(db, "forecaster:", time.Hour)
	ctx := context.Background()

	t.Run("hit", func(t *testing.T) {
		mock.ExpectGet("forecaster:models_Chile.pkl").SetVal("blob")

		data, ok, err := cache.Get(ctx, "models_Chile.pkl")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("blob"), data)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss", func(t *testing.T) {
		mock.ExpectGet("forecaster:models_Peru.pkl").RedisNil()

		data, ok, err := cache.Get(ctx, "models_Peru.pkl")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, data)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error", func(t *testing.T) {
		mock.ExpectGet("forecaster:models_Fiji.pkl").SetErr(errors.New("LOADING"))

		_, _, err := cache.Get(ctx, "models_Fiji.pkl")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("set", func(t *testing.T) {
		mock.ExpectSet("forecaster:models_Chile.pkl", []byte("blob"), time.Hour).SetVal("OK")

		require.NoError(t, cache.Set(ctx, "models_Chile.pkl", []byte("blob")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestScanCache(t *testing.T) {
	dir := t.TempDir()

	result, err := ScanCache(filepath.Join(dir, "missing"), true)
	require.NoError(t, err)
	assert.Empty(t, result.Artifacts)

	data, err := EncodeBytes(testBundle(t, "Peru"))
	require.NoError(t, err)
	require.NoError(t, WriteFile(LocalPath(dir, "Peru"), data))
	require.NoError(t, WriteFile(LocalPath(dir, "Chile"), []byte("x")))
	require.NoError(t, WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored")))
	require.NoError(t, WriteFile(filepath.Join(dir, "model_Fiji.pkl.123.tmp"), []byte("partial")))

	result, err = ScanCache(dir, true)
	require.NoError(t, err)
	require.Len(t, result.Artifacts, 2)

	assert.Equal(t, "Chile", result.Artifacts[0].Country)
	assert.Equal(t, "Peru", result.Artifacts[1].Country)
	assert.Equal(t, int64(len(data)), result.Artifacts[1].Size)
	assert.Equal(t, int64(len(data)+1), result.BytesScanned)

	bundle, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, bundle.Digest, result.Artifacts[1].Digest)

	result, err = ScanCache(dir, false)
	require.NoError(t, err)
	assert.Empty(t, result.Artifacts[0].Digest)
}
