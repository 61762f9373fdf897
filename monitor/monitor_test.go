package monitor

import (
	iface "BlurCam/interface"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type fakeController struct {
	status  iface.PipelineStatus
	stopped atomic.Bool
}

func (c *fakeController) Status() iface.PipelineStatus {
	return c.status
}

func (c *fakeController) RequestStop() {
	c.stopped.Store(true)
}

func newTestRouter(web *WebPreview) (*fakeController, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	ctrl := &fakeController{status: iface.PipelineStatus{
		ID:      "cam-1",
		State:   "emitting",
		Emitted: 42,
		Format:  iface.SinkFormat{Width: 640, Height: 480, Layout: iface.LayoutRGB24, BytesPerLine: 1920, BytesPerFrame: 921600},
	}}
	return ctrl, NewRouter(ctrl, NewRegistry(), web)
}

func TestRouter(t *testing.T) {
	ctrl, r := newTestRouter(nil)

	t.Run("Test ping", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
	})

	t.Run("Test status", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data iface.PipelineStatus `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, ctrl.status, body.Data)
	})

	t.Run("Test stop", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/stop", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.True(t, ctrl.stopped.Load())
	})

	t.Run("Test metrics", func(t *testing.T) {
		FramesEmitted.Inc()
		ObserveStage(iface.StageSegment, 30*time.Millisecond)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.Contains(t, body, "blurcam_frames_emitted_total")
		assert.Contains(t, body, `blurcam_stage_seconds_bucket{stage="segment"`)
	})

	t.Run("Test preview disabled", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/preview", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCheckProcessInfo(t *testing.T) {
	p, err := process.NewProcess(int32(os.Getpid()))
	require.NoError(t, err)
	CheckProcessInfo(p)
	assert.Greater(t, testutil.ToFloat64(memUsage), 0.0)
}

func TestStartMon_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		StartMon(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartMon did not return after cancel")
	}
}

func TestWebPreview(t *testing.T) {
	web := NewWebPreview()
	web.sleep = func(time.Duration) {}
	_, r := newTestRouter(web)
	srv := httptest.NewServer(r)
	defer srv.Close()

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 200, 30, 0), 48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	t.Run("Test show without viewers", func(t *testing.T) {
		web.Show(frame)
		assert.Equal(t, -1, web.PollKey(10))
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/preview"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return web.Viewers() == 1 }, time.Second, 5*time.Millisecond)

	t.Run("Test frame is streamed as jpeg", func(t *testing.T) {
		web.Show(frame)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, mt)
		require.Greater(t, len(data), 2)
		assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])

		decoded, err := gocv.IMDecode(data, gocv.IMReadColor)
		require.NoError(t, err)
		defer decoded.Close()
		assert.Equal(t, 64, decoded.Cols())
		assert.Equal(t, 48, decoded.Rows())
	})

	t.Run("Test stop message acts as escape", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("stop")))
		var key int
		require.Eventually(t, func() bool {
			key = web.PollKey(1)
			return key != -1
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, 27, key)
		assert.Equal(t, -1, web.PollKey(1), "key is consumed once")
	})

	t.Run("Test close drops viewers", func(t *testing.T) {
		require.NoError(t, web.Close())
		assert.Equal(t, 0, web.Viewers())
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err)
	})
}

func TestWebPreview_SlowViewer(t *testing.T) {
	web := NewWebPreview()
	slow := &viewer{send: make(chan []byte, clientBacklog)}
	web.viewers[slow] = struct{}{}

	frame := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	defer frame.Close()

	before := testutil.ToFloat64(PreviewDropped)
	for i := 0; i < clientBacklog+3; i++ {
		web.Show(frame)
	}
	assert.Len(t, slow.send, clientBacklog)
	assert.Equal(t, before+3, testutil.ToFloat64(PreviewDropped))

	require.NoError(t, web.Close())
	assert.Equal(t, 0, web.Viewers())
}
