package viewport_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/domain"
	apperrors "github.com/geoview-microservice/internal/pkg/errors"
	"github.com/geoview-microservice/internal/usecase"
	viewportworker "github.com/geoview-microservice/internal/worker/viewport"
)

// MockStreamRepository is a mock of StreamRepository
type MockStreamRepository struct {
	mock.Mock

	mu        sync.Mutex
	published []domain.MarkerUpdateEvent
}

func (m *MockStreamRepository) ConsumeBatch(ctx context.Context, stream, group, consumer string, count int64) ([]domain.StreamMessage, error) {
	args := m.Called(ctx, stream, group, consumer, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.StreamMessage), args.Error(1)
}

func (m *MockStreamRepository) AckMessages(ctx context.Context, stream, group string, messageIDs []string) error {
	args := m.Called(ctx, stream, group, messageIDs)
	return args.Error(0)
}

func (m *MockStreamRepository) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	args := m.Called(ctx, stream, group)
	return args.Error(0)
}

// PublishToStream records marker updates instead of going through mock expectations:
// it is called from fetch goroutines.
func (m *MockStreamRepository) PublishToStream(ctx context.Context, stream string, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if evt, ok := data.(domain.MarkerUpdateEvent); ok && stream == domain.StreamMarkerUpdates {
		m.published = append(m.published, evt)
	}
	return nil
}

func (m *MockStreamRepository) events(clientID, typ string) []domain.MarkerUpdateEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MarkerUpdateEvent
	for _, e := range m.published {
		if e.ClientID == clientID && e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type staticSource struct {
	mu      sync.Mutex
	records []domain.GeoRecord
	regions []domain.RegionKey
}

func (s *staticSource) FetchRecords(ctx context.Context, q domain.RegionQuery) (*domain.RecordPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = append(s.regions, q.Region)
	return &domain.RecordPage{Data: s.records, Meta: domain.PageMeta{Page: 1, Total: len(s.records)}}, nil
}

const (
	settle  = 200 * time.Millisecond
	idleTTL = time.Minute
)

func strPtr(s string) *string { return &s }

func newWorker(t *testing.T, repo *MockStreamRepository) (*viewportworker.StreamWorker, *usecase.SessionRegistry, *clock.Mock) {
	t.Helper()
	logger := zap.NewNop()
	clk := clock.NewMock()
	src := &staticSource{records: []domain.GeoRecord{
		{ID: 1, FullName: "Acme", Balance: 10, Coordinates: strPtr("40.71,-74.01")},
		{ID: 2, FullName: "No coords", Balance: -1},
	}}
	factory := usecase.NewSessionFactory(src, clk, usecase.MapSessionConfig{
		SettleDuration: settle,
		FetchTimeout:   time.Second,
		PerPage:        500,
		KeyPrecision:   3,
		DefaultViewport: domain.ViewportFromRegion(domain.Region{
			Center:         domain.LatLng{Lat: 40.7128, Lng: -74.0060},
			LatitudeDelta:  0.0922,
			LongitudeDelta: 0.0421,
		}, domain.ScreenSize{}),
		TapRadiusPx: 24,
	}, logger)
	registry := usecase.NewSessionRegistry("stream-test", logger)
	t.Cleanup(registry.StopAll)

	w := viewportworker.NewStreamWorker(repo, factory, registry, clk, "test-group", idleTTL, 3, logger)
	return w, registry, clk
}

func message(t *testing.T, id string, evt domain.ViewportEvent) domain.StreamMessage {
	t.Helper()
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	return domain.StreamMessage{ID: id, Data: string(data)}
}

func expectBatch(repo *MockStreamRepository, msgs []domain.StreamMessage) {
	repo.On("ConsumeBatch", mock.Anything, domain.StreamViewportEvents, "test-group", mock.Anything, int64(20)).
		Return(msgs, nil).Once()

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	repo.On("AckMessages", mock.Anything, domain.StreamViewportEvents, "test-group", ids).Return(nil).Once()
}

func TestStreamWorker_Name(t *testing.T) {
	w, _, _ := newWorker(t, &MockStreamRepository{})
	assert.Equal(t, "viewport-stream", w.Name())
}

func TestStreamWorker_ViewportEventPublishesMarkers(t *testing.T) {
	repo := &MockStreamRepository{}
	w, registry, clk := newWorker(t, repo)
	ctx := context.Background()

	expectBatch(repo, []domain.StreamMessage{
		message(t, "1-0", domain.ViewportEvent{ClientID: "c1", Type: domain.ViewportEventAttach}),
		message(t, "1-1", domain.ViewportEvent{
			ClientID: "c1",
			Type:     domain.ViewportEventViewport,
			Bounds: &domain.Bounds{
				SouthWest: domain.LatLng{Lat: 40.70, Lng: -74.02},
				NorthEast: domain.LatLng{Lat: 40.72, Lng: -74.00},
			},
			Size: domain.ScreenSize{Width: 400, Height: 800},
		}),
	})

	n, err := w.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"c1"}, w.Clients())
	assert.Equal(t, 1, registry.Len())

	clk.Add(settle)
	require.Eventually(t, func() bool {
		return len(repo.events("c1", domain.MarkerUpdateMarkers)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	update := repo.events("c1", domain.MarkerUpdateMarkers)[0]
	require.Len(t, update.Markers, 1)
	assert.Equal(t, int64(1), update.Markers[0].RecordID)
	assert.Equal(t, domain.MarkerColorGreen, update.Markers[0].Color)

	session, err := registry.Get("c1")
	require.NoError(t, err)
	last := session.Debouncer().LastQuery
	require.NotNil(t, last)
	assert.Equal(t,
		domain.RegionKey("POLYGON((-74.020 40.700, -74.020 40.720, -74.000 40.720, -74.000 40.700, -74.020 40.700))"),
		last.Region)
	repo.AssertExpectations(t)
}

func TestStreamWorker_BrokenMessagesAreAckedAndSkipped(t *testing.T) {
	repo := &MockStreamRepository{}
	w, registry, _ := newWorker(t, repo)

	expectBatch(repo, []domain.StreamMessage{
		{ID: "1-0", Data: ""},
		{ID: "1-1", Data: "{not json"},
		message(t, "1-2", domain.ViewportEvent{Type: domain.ViewportEventViewport}),
		message(t, "1-3", domain.ViewportEvent{ClientID: "c1"}),
	})

	n, err := w.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Empty(t, w.Clients())
	assert.Equal(t, 0, registry.Len())

	// ответ получает только клиент, чей client_id удалось разобрать
	errs := repo.events("c1", domain.MarkerUpdateError)
	require.Len(t, errs, 1)
	assert.Equal(t, "INVALID_REQUEST", errs[0].Error.Code)
	assert.Len(t, repo.events("", domain.MarkerUpdateError), 0)
	repo.AssertExpectations(t)
}

func TestStreamWorker_BrokenMessageWithClientPublishesError(t *testing.T) {
	repo := &MockStreamRepository{}
	w, registry, _ := newWorker(t, repo)

	expectBatch(repo, []domain.StreamMessage{
		{ID: "2-0", Data: `{"client_id":"c7"}`},
	})

	n, err := w.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	errs := repo.events("c7", domain.MarkerUpdateError)
	require.Len(t, errs, 1)
	require.NotNil(t, errs[0].Error)
	assert.Equal(t, "INVALID_REQUEST", errs[0].Error.Code)
	assert.Equal(t, apperrors.ErrInvalidRequest.Message, errs[0].Error.Message)

	// битое событие не открывает сессию
	assert.Empty(t, w.Clients())
	assert.Equal(t, 0, registry.Len())
	repo.AssertExpectations(t)
}

func TestStreamWorker_InvalidEventPublishesError(t *testing.T) {
	repo := &MockStreamRepository{}
	w, _, _ := newWorker(t, repo)

	expectBatch(repo, []domain.StreamMessage{
		message(t, "1-0", domain.ViewportEvent{ClientID: "c1", Type: "zoom"}),
		message(t, "1-1", domain.ViewportEvent{
			ClientID: "c1",
			Type:     domain.ViewportEventViewport,
			Bounds: &domain.Bounds{
				SouthWest: domain.LatLng{Lat: 50, Lng: 0},
				NorthEast: domain.LatLng{Lat: 40, Lng: 1},
			},
		}),
		message(t, "1-2", domain.ViewportEvent{ClientID: "c1", Type: domain.ViewportEventSelect, RecordID: new(int64)}),
	})

	_, err := w.ProcessBatch(context.Background())
	require.NoError(t, err)

	errs := repo.events("c1", domain.MarkerUpdateError)
	require.Len(t, errs, 3)
	assert.Equal(t, "INVALID_REQUEST", errs[0].Error.Code)
	assert.Equal(t, "INVALID_VIEWPORT", errs[1].Error.Code)
	assert.Equal(t, "RECORD_NOT_FOUND", errs[2].Error.Code)
}

func TestStreamWorker_Detach(t *testing.T) {
	repo := &MockStreamRepository{}
	w, registry, _ := newWorker(t, repo)
	ctx := context.Background()

	expectBatch(repo, []domain.StreamMessage{
		message(t, "1-0", domain.ViewportEvent{ClientID: "c1", Type: domain.ViewportEventAttach}),
		message(t, "1-1", domain.ViewportEvent{ClientID: "c2", Type: domain.ViewportEventAttach}),
	})
	_, err := w.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2"}, w.Clients())

	expectBatch(repo, []domain.StreamMessage{
		message(t, "2-0", domain.ViewportEvent{ClientID: "c1", Type: domain.ViewportEventDetach}),
		message(t, "2-1", domain.ViewportEvent{ClientID: "unknown", Type: domain.ViewportEventDetach}),
	})
	_, err = w.ProcessBatch(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"c2"}, w.Clients())
	assert.Equal(t, 1, registry.Len())
	_, err = registry.Get("c1")
	assert.Error(t, err)
}

func TestStreamWorker_EvictIdle(t *testing.T) {
	repo := &MockStreamRepository{}
	w, registry, clk := newWorker(t, repo)
	ctx := context.Background()

	expectBatch(repo, []domain.StreamMessage{
		message(t, "1-0", domain.ViewportEvent{ClientID: "c1", Type: domain.ViewportEventAttach}),
		message(t, "1-1", domain.ViewportEvent{ClientID: "c2", Type: domain.ViewportEventAttach}),
	})
	_, err := w.ProcessBatch(ctx)
	require.NoError(t, err)

	clk.Add(idleTTL / 2)
	expectBatch(repo, []domain.StreamMessage{
		message(t, "2-0", domain.ViewportEvent{ClientID: "c2", Type: domain.ViewportEventClosePopup}),
	})
	_, err = w.ProcessBatch(ctx)
	require.NoError(t, err)

	clk.Add(idleTTL/2 + time.Second)
	assert.Equal(t, 1, w.EvictIdle())
	assert.Equal(t, []string{"c2"}, w.Clients())
	assert.Equal(t, 1, registry.Len())
}

func TestStreamWorker_ConsumeError(t *testing.T) {
	repo := &MockStreamRepository{}
	w, _, _ := newWorker(t, repo)

	repo.On("ConsumeBatch", mock.Anything, domain.StreamViewportEvents, "test-group", mock.Anything, int64(20)).
		Return(nil, errors.New("connection refused")).Once()

	n, err := w.ProcessBatch(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)
	repo.AssertNotCalled(t, "AckMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStreamWorker_StartStops(t *testing.T) {
	repo := &MockStreamRepository{}
	w, registry, _ := newWorker(t, repo)

	repo.On("CreateConsumerGroup", mock.Anything, domain.StreamViewportEvents, "test-group").Return(nil)
	expectBatch(repo, []domain.StreamMessage{
		message(t, "1-0", domain.ViewportEvent{ClientID: "c1", Type: domain.ViewportEventAttach}),
	})
	repo.On("ConsumeBatch", mock.Anything, domain.StreamViewportEvents, "test-group", mock.Anything, int64(20)).
		Return([]domain.StreamMessage{}, nil)

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	require.Eventually(t, func() bool { return registry.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, 0, registry.Len())
	assert.Empty(t, w.Clients())
}

func TestStreamWorker_StartFailsWithoutConsumerGroup(t *testing.T) {
	repo := &MockStreamRepository{}
	w, _, _ := newWorker(t, repo)

	repo.On("CreateConsumerGroup", mock.Anything, domain.StreamViewportEvents, "test-group").Return(errors.New("NOAUTH"))

	err := w.Start(context.Background())
	assert.Error(t, err)
}
