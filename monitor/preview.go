package monitor

import (
	"BlurCam/logger"
	"BlurCam/preview"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	stopMessage   = "stop"
	clientBacklog = 2
	writeTimeout  = time.Second
)

type viewer struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (v *viewer) close() {
	v.closeOnce.Do(func() {
		close(v.send)
	})
}

// WebPreview streams the composite as JPEG frames to websocket viewers. It is
// a Preview: Show and PollKey are called from the pipeline goroutine, while
// viewers connect and disconnect on the HTTP server goroutines. A viewer
// sending "stop" acts like the escape key of the window preview.
type WebPreview struct {
	mu       sync.Mutex
	viewers  map[*viewer]struct{}
	upgrader websocket.Upgrader
	key      atomic.Int32
	sleep    func(time.Duration)
}

func NewWebPreview() *WebPreview {
	p := &WebPreview{
		viewers: map[*viewer]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sleep: time.Sleep,
	}
	p.key.Store(-1)
	return p
}

func (p *WebPreview) Viewers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.viewers)
}

// Show encodes frame once and hands it to every viewer that is keeping up.
func (p *WebPreview) Show(frame gocv.Mat) {
	if p.Viewers() == 0 || frame.Empty() {
		return
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		logger.Log().Warn("preview encode failed", zap.Error(err))
		return
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	for v := range p.viewers {
		select {
		case v.send <- data:
		default:
			PreviewDropped.Inc()
		}
	}
}

func (p *WebPreview) PollKey(delayMs int) int {
	p.sleep(time.Duration(delayMs) * time.Millisecond)
	return int(p.key.Swap(-1))
}

func (p *WebPreview) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for v := range p.viewers {
		delete(p.viewers, v)
		v.close()
	}
	return nil
}

func (p *WebPreview) remove(v *viewer) {
	p.mu.Lock()
	if _, ok := p.viewers[v]; ok {
		delete(p.viewers, v)
		v.close()
	}
	p.mu.Unlock()
}

// Serve upgrades the request and streams frames until the viewer goes away.
func (p *WebPreview) Serve(c *gin.Context) {
	conn, err := p.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	v := &viewer{conn: conn, send: make(chan []byte, clientBacklog)}
	p.mu.Lock()
	p.viewers[v] = struct{}{}
	p.mu.Unlock()
	log := logger.Log().With(zap.String("viewer", conn.RemoteAddr().String()))
	log.Info("preview viewer connected")

	go func() {
		defer func() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "preview closed"))
			_ = conn.Close()
		}()
		for data := range v.send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				p.remove(v)
				return
			}
		}
	}()

	conn.SetReadLimit(1024)
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			p.remove(v)
			log.Info("preview viewer disconnected", zap.Error(err))
			return
		}
		if mt == websocket.TextMessage && string(msg) == stopMessage {
			p.key.Store(preview.KeyEscape)
		}
	}
}
