package weather_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/weathercore/internal/fault"
	"github.com/breatheroute/weathercore/internal/location"
	"github.com/breatheroute/weathercore/internal/weather"
	"github.com/breatheroute/weathercore/pkg/geo"
)

var seoul = geo.Coordinate{Lat: 37.5665, Lon: 126.9780}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockProvider is a mock weather provider for testing.
type mockProvider struct {
	mu            sync.Mutex
	callCount     int
	forecastCalls int
	snapshot      weather.Snapshot
	forecast      weather.Forecast
	err           error
	delay         time.Duration
}

func (m *mockProvider) Name() string {
	return "mock"
}

func (m *mockProvider) Fetch(ctx context.Context, coord geo.Coordinate) (weather.Snapshot, error) {
	m.mu.Lock()
	m.callCount++
	snap, err, delay := m.snapshot, m.err, m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return weather.Snapshot{}, fault.NetworkFailure(ctx.Err())
		}
	}
	if err != nil {
		return weather.Snapshot{}, err
	}
	snap.Coordinate = coord
	return snap, nil
}

func (m *mockProvider) FetchForecast(_ context.Context, coord geo.Coordinate) (weather.Forecast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forecastCalls++

	if m.err != nil {
		return weather.Forecast{}, m.err
	}
	f := m.forecast
	f.Coordinate = coord
	return f, nil
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *mockProvider) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// mockLocator returns a fixed coordinate or error and counts calls.
type mockLocator struct {
	mu       sync.Mutex
	coord    geo.Coordinate
	err      error
	calls    int
	timeouts []time.Duration
}

func (m *mockLocator) Acquire(_ context.Context, timeout time.Duration) (geo.Coordinate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.timeouts = append(m.timeouts, timeout)
	return m.coord, m.err
}

func newTestService(provider *mockProvider, locator weather.Locator, clock *fakeClock) *weather.Service {
	return weather.NewService(weather.ServiceConfig{
		Provider: provider,
		Locator:  locator,
		Logger:   zerolog.Nop(),
		CacheTTL: 600 * time.Second,
		Now:      clock.Now,
	})
}

func seoulSnapshot(t0 time.Time) weather.Snapshot {
	return weather.Snapshot{
		Temperature:   18.2,
		Condition:     weather.ConditionClouds,
		ConditionText: "Clouds",
		Humidity:      55,
		WindSpeed:     3.1,
		Units:         "metric",
		ObservedAt:    t0,
		FetchedAt:     t0,
	}
}

func TestService_RequestWeather_CacheLifecycle(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	provider := &mockProvider{snapshot: seoulSnapshot(t0)}
	svc := newTestService(provider, &mockLocator{coord: seoul}, clock)
	ctx := context.Background()

	first, err := svc.RequestWeather(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls())
	assert.Equal(t, 18.2, first.Temperature)
	assert.Equal(t, "Clouds", first.ConditionText)
	assert.Equal(t, 55.0, first.Humidity)
	assert.Equal(t, 3.1, first.WindSpeed)
	assert.Equal(t, t0, first.ObservedAt)
	assert.Equal(t, seoul, first.Coordinate)

	clock.Advance(60 * time.Second)
	second, err := svc.RequestWeather(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls(), "cache hit should not call the provider")
	assert.Equal(t, first, second)

	clock.Advance(640 * time.Second)
	_, err = svc.RequestWeather(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls(), "expired entry should be refetched")
}

func TestService_RequestWeather_APIErrorNotCached(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	provider := &mockProvider{err: fault.APIError(http.StatusInternalServerError)}
	svc := newTestService(provider, &mockLocator{coord: seoul}, clock)

	_, err := svc.RequestWeather(context.Background(), time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrAPIError)
	status, ok := fault.StatusCode(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, 0, svc.CacheStats().Weather.Entries)

	_, err = svc.RequestWeather(context.Background(), time.Second)
	require.Error(t, err)
	assert.Equal(t, 2, provider.calls(), "failures should not be cached")

	provider.setErr(nil)
	_, err = svc.RequestWeather(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.CacheStats().Weather.Entries)
}

func TestService_RequestWeather_LocationFailurePropagated(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind fault.Kind
	}{
		{"unavailable", fault.LocationUnavailable(location.ErrPermissionDenied), fault.KindLocationUnavailable},
		{"timeout", fault.LocationTimeout(nil), fault.KindLocationTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockProvider{}
			svc := newTestService(provider, &mockLocator{err: tt.err}, &fakeClock{now: time.Now()})

			_, err := svc.RequestWeather(context.Background(), time.Second)
			require.Error(t, err)
			assert.Same(t, tt.err, err)
			assert.Equal(t, tt.kind, fault.KindOf(err))
			assert.Equal(t, 0, provider.calls())
			assert.Equal(t, 0, svc.CacheStats().Weather.Entries)
		})
	}
}

func TestService_RequestWeather_NoLocator(t *testing.T) {
	svc := newTestService(&mockProvider{}, nil, &fakeClock{now: time.Now()})

	_, err := svc.RequestWeather(context.Background(), time.Second)
	assert.ErrorIs(t, err, fault.ErrLocationUnavailable)
	assert.ErrorIs(t, err, weather.ErrNoLocator)
}

func TestService_RequestWeather_BudgetBoundsFetch(t *testing.T) {
	provider := &mockProvider{delay: 2 * time.Second}
	svc := newTestService(provider, &mockLocator{coord: seoul}, &fakeClock{now: time.Now()})

	start := time.Now()
	_, err := svc.RequestWeather(context.Background(), 100*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrNetworkFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestService_RequestWeather_LocationTimeoutCappedByBudget(t *testing.T) {
	locator := &mockLocator{coord: seoul}
	svc := weather.NewService(weather.ServiceConfig{
		Provider:        &mockProvider{},
		Locator:         locator,
		Logger:          zerolog.Nop(),
		LocationTimeout: 30 * time.Second,
	})

	_, err := svc.RequestWeather(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.Len(t, locator.timeouts, 1)
	assert.LessOrEqual(t, locator.timeouts[0], 2*time.Second)

	_, err = svc.RequestWeather(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, locator.timeouts[1])
}

func TestService_RequestWeather_SharedCell(t *testing.T) {
	provider := &mockProvider{snapshot: seoulSnapshot(time.Now())}
	svc := newTestService(provider, &mockLocator{coord: seoul}, &fakeClock{now: time.Now()})

	_, err := svc.RequestWeather(context.Background(), time.Second)
	require.NoError(t, err)

	// Same 0.01 degree cell.
	nearby := svc.WithLocator(&mockLocator{coord: geo.Coordinate{Lat: 37.5669, Lon: 126.9785}})
	_, err = nearby.RequestWeather(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls())

	far := svc.WithLocator(&mockLocator{coord: geo.Coordinate{Lat: 35.1796, Lon: 129.0756}})
	_, err = far.RequestWeather(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls())
}

func TestService_RequestWeather_ConcurrentHits(t *testing.T) {
	provider := &mockProvider{snapshot: seoulSnapshot(time.Now())}
	svc := newTestService(provider, &mockLocator{coord: seoul}, &fakeClock{now: time.Now()})

	_, err := svc.RequestWeather(context.Background(), time.Second)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RequestWeather(context.Background(), time.Second)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, provider.calls())
	assert.Equal(t, int64(50), svc.CacheStats().Weather.Hits)
}

func TestService_RequestWeather_Transitions(t *testing.T) {
	var mu sync.Mutex
	var states []weather.State
	record := func(tr weather.Transition) {
		mu.Lock()
		defer mu.Unlock()
		assert.NotEmpty(t, tr.AcquisitionID)
		states = append(states, tr.To)
	}

	svc := weather.NewService(weather.ServiceConfig{
		Provider:     &mockProvider{snapshot: seoulSnapshot(time.Now())},
		Locator:      &mockLocator{coord: seoul},
		Logger:       zerolog.Nop(),
		OnTransition: record,
	})

	_, err := svc.RequestWeather(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []weather.State{
		weather.StateLocatingStarted,
		weather.StateLocationResolved,
		weather.StateCacheChecked,
		weather.StateFetching,
		weather.StateFetchResolved,
		weather.StateDone,
	}, states)

	states = nil
	_, err = svc.RequestWeather(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []weather.State{
		weather.StateLocatingStarted,
		weather.StateLocationResolved,
		weather.StateCacheChecked,
		weather.StateDone,
	}, states)

	states = nil
	failing := svc.WithLocator(&mockLocator{err: fault.LocationTimeout(nil)})
	_, err = failing.RequestWeather(context.Background(), time.Second)
	require.Error(t, err)
	assert.Equal(t, []weather.State{weather.StateLocatingStarted, weather.StateFailed}, states)
}

func TestService_RequestForecast(t *testing.T) {
	day1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	provider := &mockProvider{forecast: weather.Forecast{
		Units: "metric",
		Items: []weather.ForecastItem{
			{Time: day1.Add(9 * time.Hour), TempMin: 12, TempMax: 15, Condition: weather.ConditionRain, Icon: "10d"},
			{Time: day1.Add(12 * time.Hour), TempMin: 14, TempMax: 19, Condition: weather.ConditionClear, Icon: "01d"},
			{Time: day1.Add(27 * time.Hour), TempMin: 10, TempMax: 17, Condition: weather.ConditionClouds, Icon: "03d"},
		},
		FetchedAt: day1,
	}}
	svc := newTestService(provider, &mockLocator{coord: seoul}, &fakeClock{now: day1})

	daily, err := svc.RequestForecast(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, daily.Days, 2)
	assert.Equal(t, 12.0, daily.Days[0].TempMin)
	assert.Equal(t, 19.0, daily.Days[0].TempMax)
	assert.Equal(t, "10d", daily.Days[0].Icon)
	assert.Equal(t, seoul, daily.Coordinate)

	_, err = svc.RequestForecast(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.forecastCalls)
	assert.Equal(t, 0, provider.calls(), "forecast should not touch current conditions")
}

func TestService_InvalidateCache(t *testing.T) {
	provider := &mockProvider{snapshot: seoulSnapshot(time.Now())}
	svc := newTestService(provider, &mockLocator{coord: seoul}, &fakeClock{now: time.Now()})

	_, err := svc.RequestWeather(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.CacheStats().Weather.Entries)
	assert.Equal(t, "mock", svc.CacheStats().Provider)

	svc.InvalidateCache()
	assert.Equal(t, 0, svc.CacheStats().Weather.Entries)

	_, err = svc.RequestWeather(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls())
}

type mockGeocoder struct {
	mu    sync.Mutex
	place weather.Place
	err   error
	calls int
}

func (m *mockGeocoder) ReverseGeocode(_ context.Context, _ geo.Coordinate) (weather.Place, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.place, m.err
}

func TestService_PlaceLabel(t *testing.T) {
	junggu := weather.Place{Name: "Jung-gu", State: "Seoul", Country: "KR"}

	t.Run("labels and caches with the data", func(t *testing.T) {
		geocoder := &mockGeocoder{place: junggu}
		svc := weather.NewService(weather.ServiceConfig{
			Provider: &mockProvider{
				snapshot: seoulSnapshot(time.Now()),
				forecast: weather.Forecast{FetchedAt: time.Now()},
			},
			Locator:  &mockLocator{coord: seoul},
			Geocoder: geocoder,
			Logger:   zerolog.Nop(),
		})

		snap, err := svc.RequestWeather(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, "Seoul Jung-gu", snap.Place.Label())

		cached, err := svc.RequestWeather(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, junggu, cached.Place)

		daily, err := svc.RequestForecast(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, junggu, daily.Place)

		assert.Equal(t, 2, geocoder.calls, "one lookup per fetch, none on a cache hit")
	})

	t.Run("failed lookup still returns weather", func(t *testing.T) {
		svc := weather.NewService(weather.ServiceConfig{
			Provider: &mockProvider{snapshot: seoulSnapshot(time.Now())},
			Locator:  &mockLocator{coord: seoul},
			Geocoder: &mockGeocoder{err: fault.APIError(http.StatusUnauthorized)},
			Logger:   zerolog.Nop(),
		})

		snap, err := svc.RequestWeather(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, 18.2, snap.Temperature)
		assert.True(t, snap.Place.IsZero())
	})
}
