package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/config"
	"github.com/geoview-microservice/internal/domain"
	"github.com/geoview-microservice/internal/maphost"
	apperrors "github.com/geoview-microservice/internal/pkg/errors"
)

type fakeHost struct {
	*maphost.Base

	mu      sync.Mutex
	placed  [][]domain.Marker
	popups  []*domain.Selection
	onPlace func()
}

func newFakeHost() *fakeHost {
	return &fakeHost{Base: maphost.NewBase()}
}

func (h *fakeHost) PlaceMarkers(markers []domain.Marker) error {
	h.mu.Lock()
	h.placed = append(h.placed, markers)
	hook := h.onPlace
	h.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

// afterPlace runs fn after every marker placement, outside the host lock
func (h *fakeHost) afterPlace(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPlace = fn
}

func (h *fakeHost) ShowPopup(sel *domain.Selection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.popups = append(h.popups, sel)
	return nil
}

func (h *fakeHost) placements() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.placed)
}

func (h *fakeHost) lastPlaced() []domain.Marker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.placed[len(h.placed)-1]
}

func (h *fakeHost) lastPopup() (*domain.Selection, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.popups) == 0 {
		return nil, 0
	}
	return h.popups[len(h.popups)-1], len(h.popups)
}

// stubSource answers immediately with the records currently configured.
type stubSource struct {
	mu      sync.Mutex
	records []domain.GeoRecord
	queries []domain.RegionQuery
}

func (s *stubSource) set(records ...domain.GeoRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
}

func (s *stubSource) FetchRecords(ctx context.Context, q domain.RegionQuery) (*domain.RecordPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	data := make([]domain.GeoRecord, len(s.records))
	copy(data, s.records)
	return &domain.RecordPage{Data: data, Meta: domain.PageMeta{Page: 1, Total: len(data)}}, nil
}

func (s *stubSource) lastQuery() domain.RegionQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[len(s.queries)-1]
}

func (s *stubSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

var sessionViewport = domain.ViewportFromCorners(
	domain.LatLng{Lat: 40.70, Lng: -74.02},
	domain.LatLng{Lat: 40.72, Lng: -74.00},
	domain.ScreenSize{Width: 800, Height: 600},
)

func testSessionConfig() MapSessionConfig {
	return MapSessionConfig{
		SettleDuration: 200 * time.Millisecond,
		FetchTimeout:   time.Second,
		PerPage:        500,
		KeyPrecision:   2,
		DefaultViewport: domain.ViewportFromRegion(domain.Region{
			Center:         domain.LatLng{Lat: 40.7128, Lng: -74.0060},
			LatitudeDelta:  0.0922,
			LongitudeDelta: 0.0421,
		}, domain.ScreenSize{Width: 1024, Height: 768}),
		TapRadiusPx: 24,
	}
}

func startSession(t *testing.T, src *stubSource) (*MapSession, *fakeHost, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	host := newFakeHost()
	s := NewMapSession("session-1", host, src, clk, testSessionConfig(), zap.NewNop())
	t.Cleanup(s.Stop)

	s.Start()
	clk.Add(200 * time.Millisecond)
	require.Eventually(t, func() bool { return host.placements() == 1 }, 2*time.Second, 5*time.Millisecond)
	return s, host, clk
}

func showViewport(t *testing.T, host *fakeHost, clk *clock.Mock, v domain.Viewport) {
	t.Helper()
	before := host.placements()
	host.EmitViewport(v)
	clk.Add(200 * time.Millisecond)
	require.Eventually(t, func() bool { return host.placements() == before+1 }, 2*time.Second, 5*time.Millisecond)
}

func TestMapSession_DefaultViewportFetch(t *testing.T) {
	src := &stubSource{}
	src.set(record(1, strPtr("40.71,-74.01"), 5), record(2, nil, 5))

	s, host, _ := startSession(t, src)

	assert.Equal(t, domain.RegionKey("POLYGON((-74.03 40.67, -74.03 40.76, -73.98 40.76, -73.98 40.67, -74.03 40.67))"), src.lastQuery().Region)
	assert.Equal(t, 500, src.lastQuery().PerPage)
	require.Len(t, host.lastPlaced(), 1)
	assert.Equal(t, int64(1), host.lastPlaced()[0].RecordID)
	assert.Equal(t, host.lastPlaced(), s.Markers())

	// Start is idempotent
	s.Start()
	assert.Equal(t, StateIdle, s.Debouncer().State)
}

func TestMapSession_ViewportChangeRefetches(t *testing.T) {
	src := &stubSource{}
	_, host, clk := startSession(t, src)

	src.set(record(3, strPtr("40.71,-74.01"), -1))
	showViewport(t, host, clk, sessionViewport)

	assert.Equal(t,
		domain.RegionKey("POLYGON((-74.02 40.70, -74.02 40.72, -74.00 40.72, -74.00 40.70, -74.02 40.70))"),
		src.lastQuery().Region)
	require.Len(t, host.lastPlaced(), 1)
	assert.Equal(t, domain.MarkerColorRed, host.lastPlaced()[0].Color)

	// same region again: no fetch
	host.EmitViewport(sessionViewport)
	clk.Add(time.Second)
	assert.Equal(t, 2, src.count())
}

func TestMapSession_Selection(t *testing.T) {
	src := &stubSource{}
	src.set(
		record(1, strPtr("40.7100,-74.0100"), 5),
		record(2, strPtr("40.7150,-74.0050"), 5),
	)
	s, host, clk := startSession(t, src)
	showViewport(t, host, clk, sessionViewport)

	t.Run("select by id anchors popup at the marker", func(t *testing.T) {
		require.NoError(t, s.SelectRecord(1))

		popup, _ := host.lastPopup()
		require.NotNil(t, popup)
		assert.Equal(t, int64(1), popup.Marker.RecordID)
		expected := host.Project(domain.LatLng{Lat: 40.71, Lng: -74.01})
		assert.InDelta(t, expected.X, popup.Anchor.X, 1e-9)
		assert.InDelta(t, expected.Y, popup.Anchor.Y, 1e-9)
	})

	t.Run("selecting another marker replaces the selection", func(t *testing.T) {
		require.NoError(t, s.SelectRecord(2))
		assert.Equal(t, int64(2), s.Selection().Marker.RecordID)
	})

	t.Run("unknown record", func(t *testing.T) {
		err := s.SelectRecord(404)
		assert.True(t, errors.Is(err, apperrors.ErrRecordNotFound))
		assert.Equal(t, int64(2), s.Selection().Marker.RecordID)
	})

	t.Run("tap near a marker selects it", func(t *testing.T) {
		tap := host.Project(domain.LatLng{Lat: 40.7101, Lng: -74.0099})
		require.NoError(t, s.SelectAt(tap))
		assert.Equal(t, int64(1), s.Selection().Marker.RecordID)
	})

	t.Run("tap on empty map closes the popup", func(t *testing.T) {
		_, before := host.lastPopup()
		require.NoError(t, s.SelectAt(domain.ScreenPoint{X: 1, Y: 1}))

		popup, after := host.lastPopup()
		assert.Nil(t, s.Selection())
		assert.Nil(t, popup)
		assert.Equal(t, before+1, after)

		// closing again does not send anything
		require.NoError(t, s.ClosePopup())
		_, again := host.lastPopup()
		assert.Equal(t, after, again)
	})
}

func TestMapSession_VanishedSelectionClosesPopup(t *testing.T) {
	src := &stubSource{}
	src.set(record(1, strPtr("40.71,-74.01"), 5))
	s, host, clk := startSession(t, src)
	showViewport(t, host, clk, sessionViewport)

	require.NoError(t, s.SelectRecord(1))

	src.set(record(2, strPtr("40.705,-74.015"), 5))
	s.SetFilters(domain.RecordFilters{Category: "retail"})
	require.Eventually(t, func() bool { return host.placements() == 3 }, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		popup, n := host.lastPopup()
		return popup == nil && n == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Nil(t, s.Selection())
	assert.Equal(t, "retail", src.lastQuery().Filters.Category)
}

func TestMapSession_SurvivingSelectionFollowsMarker(t *testing.T) {
	src := &stubSource{}
	src.set(record(1, strPtr("40.71,-74.01"), 5))
	s, host, clk := startSession(t, src)
	showViewport(t, host, clk, sessionViewport)
	require.NoError(t, s.SelectRecord(1))

	// pan east: the marker moves left on screen
	panned := domain.ViewportFromCorners(
		domain.LatLng{Lat: 40.70, Lng: -74.01},
		domain.LatLng{Lat: 40.72, Lng: -73.99},
		domain.ScreenSize{Width: 800, Height: 600},
	)
	before := s.Selection().Anchor
	showViewport(t, host, clk, panned)

	require.Eventually(t, func() bool {
		popup, _ := host.lastPopup()
		return popup != nil && popup.Anchor.X < before.X
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMapSession_ClosedPopupStaysClosedAcrossRender(t *testing.T) {
	src := &stubSource{}
	src.set(record(1, strPtr("40.71,-74.01"), 5))
	s, host, clk := startSession(t, src)
	showViewport(t, host, clk, sessionViewport)
	require.NoError(t, s.SelectRecord(1))
	_, popupsBefore := host.lastPopup()

	// the user closes the popup after the new markers are rendered but
	// before the popup is moved to follow its marker
	var once sync.Once
	host.afterPlace(func() {
		once.Do(func() { _ = s.ClosePopup() })
	})

	panned := domain.ViewportFromCorners(
		domain.LatLng{Lat: 40.70, Lng: -74.01},
		domain.LatLng{Lat: 40.72, Lng: -73.99},
		domain.ScreenSize{Width: 800, Height: 600},
	)
	showViewport(t, host, clk, panned)
	require.Eventually(t, func() bool { return s.Debouncer().State == StateIdle }, 2*time.Second, 5*time.Millisecond)

	assert.Nil(t, s.Selection())
	popup, n := host.lastPopup()
	assert.Nil(t, popup)
	assert.Equal(t, popupsBefore+1, n)
}

func TestMapSession_SelectBeforeFirstClientViewport(t *testing.T) {
	src := &stubSource{}
	src.set(record(1, strPtr("40.71,-74.01"), 5))
	s, host, _ := startSession(t, src)

	require.NoError(t, s.SelectRecord(1))
	popup, _ := host.lastPopup()
	require.NotNil(t, popup)

	fallback := testSessionConfig().DefaultViewport
	assert.Equal(t, fallback, host.Projector().Viewport())
	assert.Greater(t, popup.Anchor.X, 0.0)
	assert.Less(t, popup.Anchor.X, float64(fallback.Size.Width))
	assert.Greater(t, popup.Anchor.Y, 0.0)
	assert.Less(t, popup.Anchor.Y, float64(fallback.Size.Height))

	// a viewport reported by the client replaces the fallback
	host.EmitViewport(sessionViewport)
	assert.Equal(t, sessionViewport, host.Projector().Viewport())
}

func TestMapSession_StopWaitsForHostWrite(t *testing.T) {
	src := &stubSource{}
	src.set(record(1, strPtr("40.71,-74.01"), 5))
	clk := clock.NewMock()
	host := newFakeHost()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	host.afterPlace(func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	s := NewMapSession("session-1", host, src, clk, testSessionConfig(), zap.NewNop())
	s.Start()
	clk.Add(200 * time.Millisecond)

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("markers were not placed")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the host was still being written to")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	placed := host.placements()
	host.EmitViewport(sessionViewport)
	clk.Add(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, placed, host.placements())
}

func TestMapSession_Stop(t *testing.T) {
	src := &stubSource{}
	s, host, clk := startSession(t, src)

	s.Stop()
	s.Stop()

	host.EmitViewport(sessionViewport)
	clk.Add(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, src.count())
}

func TestMapSessionConfigFrom(t *testing.T) {
	cfg := &config.Config{
		Records: config.RecordsConfig{PerPage: 300},
		Viewport: config.ViewportConfig{
			SettleDuration:  150 * time.Millisecond,
			FetchTimeout:    10 * time.Second,
			KeyPrecision:    5,
			DefaultLat:      10,
			DefaultLng:      20,
			DefaultLatDelta: 2,
			DefaultLngDelta: 4,
			TapRadiusPx:     30,
			DefaultWidth:    640,
			DefaultHeight:   480,
		},
	}

	sc := MapSessionConfigFrom(cfg)
	assert.Equal(t, 300, sc.PerPage)
	assert.Equal(t, 5, sc.KeyPrecision)
	assert.Equal(t, 30.0, sc.TapRadiusPx)
	assert.Equal(t, domain.LatLng{Lat: 9, Lng: 18}, sc.DefaultViewport.Bounds.SouthWest)
	assert.Equal(t, domain.LatLng{Lat: 11, Lng: 22}, sc.DefaultViewport.Bounds.NorthEast)
	assert.Equal(t, domain.ScreenSize{Width: 640, Height: 480}, sc.DefaultViewport.Size)
}

func TestSessionRegistry(t *testing.T) {
	src := &stubSource{}
	factory := NewSessionFactory(src, clock.NewMock(), testSessionConfig(), zap.NewNop())
	registry := NewSessionRegistry("test", zap.NewNop())

	a := factory.New(NewSessionID(), newFakeHost())
	b := factory.New(NewSessionID(), newFakeHost())
	assert.NotEqual(t, a.ID(), b.ID())

	registry.Add(a)
	registry.Add(b)
	assert.Equal(t, 2, registry.Len())
	assert.ElementsMatch(t, []string{a.ID(), b.ID()}, registry.IDs())

	got, err := registry.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = registry.Get("missing")
	assert.True(t, errors.Is(err, apperrors.ErrSessionNotFound))

	assert.True(t, registry.Remove(a.ID()))
	assert.False(t, registry.Remove(a.ID()))
	assert.Equal(t, 1, registry.Len())

	registry.StopAll()
	assert.Equal(t, 0, registry.Len())
}
