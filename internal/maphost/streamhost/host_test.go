package streamhost

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/domain"
	apperrors "github.com/geoview-microservice/internal/pkg/errors"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishToStream(ctx context.Context, stream string, data interface{}) error {
	args := m.Called(ctx, stream, data)
	return args.Error(0)
}

func TestHost_PlaceMarkers(t *testing.T) {
	pub := &MockPublisher{}
	host := NewHost("native-42", pub, zap.NewNop())

	markers := []domain.Marker{{RecordID: 1, Color: domain.MarkerColorGray}}
	pub.On("PublishToStream", mock.Anything, "stream:geoview:markers", domain.MarkerUpdateEvent{
		ClientID: "native-42",
		Type:     "markers",
		Markers:  markers,
	}).Return(nil).Once()

	require.NoError(t, host.PlaceMarkers(markers))
	assert.Equal(t, "native-42", host.ClientID())
	pub.AssertExpectations(t)
}

func TestHost_ShowPopup(t *testing.T) {
	pub := &MockPublisher{}
	host := NewHost("native-42", pub, zap.NewNop())

	sel := &domain.Selection{Marker: domain.Marker{RecordID: 9}}
	pub.On("PublishToStream", mock.Anything, domain.StreamMarkerUpdates, mock.MatchedBy(func(evt domain.MarkerUpdateEvent) bool {
		return evt.Type == "popup" && evt.Selection != nil && evt.Selection.Marker.RecordID == 9
	})).Return(nil).Once()
	pub.On("PublishToStream", mock.Anything, domain.StreamMarkerUpdates, mock.MatchedBy(func(evt domain.MarkerUpdateEvent) bool {
		return evt.Type == "popup" && evt.Selection == nil
	})).Return(nil).Once()

	require.NoError(t, host.ShowPopup(sel))
	require.NoError(t, host.ShowPopup(nil))
	pub.AssertExpectations(t)
}

func TestHost_PublishError(t *testing.T) {
	pub := &MockPublisher{}
	host := NewHost("native-42", pub, zap.NewNop())

	pub.On("PublishToStream", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))

	err := host.PlaceMarkers(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish markers update")

	err = host.SendError(apperrors.ErrInvalidViewport)
	assert.Error(t, err)
}

func TestHost_ViewportEmission(t *testing.T) {
	host := NewHost("native-42", &MockPublisher{}, zap.NewNop())

	var got []domain.Viewport
	host.OnViewportChange(func(v domain.Viewport) { got = append(got, v) })

	v := domain.ViewportFromCorners(domain.LatLng{Lat: 1, Lng: 1}, domain.LatLng{Lat: 2, Lng: 2}, domain.ScreenSize{Width: 100, Height: 100})
	host.EmitViewport(v)

	require.Len(t, got, 1)
	assert.Equal(t, v, got[0])
	assert.InDelta(t, 1.5, host.Unproject(domain.ScreenPoint{X: 50, Y: 50}).Lng, 1e-9)
}
