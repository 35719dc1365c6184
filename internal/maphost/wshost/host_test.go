package wshost

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/domain"
	apperrors "github.com/geoview-microservice/internal/pkg/errors"
)

type frame struct {
	kind int
	data []byte
}

type recordingConn struct {
	mu     sync.Mutex
	frames []frame
	err    error
}

func (c *recordingConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, frame{kind: messageType, data: data})
	return nil
}

func (c *recordingConn) events(t *testing.T) []domain.MarkerUpdateEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []domain.MarkerUpdateEvent
	for _, f := range c.frames {
		if f.kind != websocket.TextMessage {
			continue
		}
		var evt domain.MarkerUpdateEvent
		require.NoError(t, json.Unmarshal(f.data, &evt))
		out = append(out, evt)
	}
	return out
}

func (c *recordingConn) pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.frames {
		if f.kind == websocket.PingMessage {
			n++
		}
	}
	return n
}

func TestHost_Messages(t *testing.T) {
	conn := &recordingConn{}
	host := NewHost("client-1", conn, zap.NewNop())

	markers := []domain.Marker{{RecordID: 1, Position: domain.LatLng{Lat: 1, Lng: 2}, Color: domain.MarkerColorGreen, Title: "Acme"}}
	require.NoError(t, host.PlaceMarkers(markers))
	require.NoError(t, host.ShowPopup(&domain.Selection{Marker: markers[0], Anchor: domain.ScreenPoint{X: 3, Y: 4}}))
	require.NoError(t, host.ShowPopup(nil))
	require.NoError(t, host.SendError(apperrors.ErrRecordNotFound))

	events := conn.events(t)
	require.Len(t, events, 4)

	assert.Equal(t, "markers", events[0].Type)
	assert.Equal(t, "client-1", events[0].ClientID)
	assert.Equal(t, markers, events[0].Markers)

	assert.Equal(t, "popup", events[1].Type)
	require.NotNil(t, events[1].Selection)
	assert.Equal(t, domain.ScreenPoint{X: 3, Y: 4}, events[1].Selection.Anchor)

	assert.Equal(t, "popup", events[2].Type)
	assert.Nil(t, events[2].Selection)

	assert.Equal(t, "error", events[3].Type)
	require.NotNil(t, events[3].Error)
	assert.Equal(t, "RECORD_NOT_FOUND", events[3].Error.Code)
}

func TestHost_WriteError(t *testing.T) {
	conn := &recordingConn{err: errors.New("broken pipe")}
	host := NewHost("client-1", conn, zap.NewNop())

	err := host.PlaceMarkers(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestHost_ConcurrentWrites(t *testing.T) {
	conn := &recordingConn{}
	host := NewHost("client-1", conn, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				host.PlaceMarkers([]domain.Marker{{RecordID: int64(i)}})
			} else {
				host.ShowPopup(nil)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, conn.events(t), 20)
}

func TestHost_KeepAlive(t *testing.T) {
	conn := &recordingConn{}
	host := NewHost("client-1", conn, zap.NewNop())

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		host.KeepAlive(5*time.Millisecond, done)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return conn.pings() >= 2 }, time.Second, time.Millisecond)
	close(done)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("keep-alive did not stop")
	}
}

func TestHost_Close(t *testing.T) {
	conn := &recordingConn{}
	host := NewHost("client-1", conn, zap.NewNop())

	require.NoError(t, host.PlaceMarkers(nil))
	host.Close()
	host.Close()

	assert.ErrorIs(t, host.PlaceMarkers([]domain.Marker{{RecordID: 1}}), ErrClosed)
	assert.ErrorIs(t, host.ShowPopup(nil), ErrClosed)
	assert.ErrorIs(t, host.SendError(apperrors.ErrRecordNotFound), ErrClosed)
	assert.ErrorIs(t, host.Ping(), ErrClosed)
	assert.Len(t, conn.events(t), 1)
	assert.Equal(t, 0, conn.pings())
}

func TestHost_KeepAliveStopsAfterClose(t *testing.T) {
	conn := &recordingConn{}
	host := NewHost("client-1", conn, zap.NewNop())
	host.Close()

	stopped := make(chan struct{})
	go func() {
		host.KeepAlive(time.Millisecond, make(chan struct{}))
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("keep-alive kept running on a closed host")
	}
	assert.Equal(t, 0, conn.pings())
}
