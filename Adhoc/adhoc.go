package Adhoc

import (
	iface "BlurCam/interface"
	"BlurCam/logger"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	CameraInstance = 0x2101
	TimeOutSeconds = 5
)

type RegisterRequest struct {
	Id            string `json:"id"`
	IP            string `json:"ip"`
	Port          int    `json:"port"`
	InstanceClass int    `json:"instanceClass"`
	State         string `json:"state"`
	Emitted       uint64 `json:"emitted"`
	Format        string `json:"format"`
	TimeStamp     int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port     int
	Addr     string
	Interval time.Duration
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg *RegServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%d/api/register", reg.Addr, reg.Port)
}

// GetOutboundIP returns the local address used to reach the default route.
// Nothing is sent: dialing UDP only selects a route.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

func newRequest(status iface.PipelineStatus, ip string, port int) RegisterRequest {
	f := status.Format
	return RegisterRequest{
		Id:            status.ID,
		IP:            ip,
		Port:          port,
		InstanceClass: CameraInstance,
		State:         status.State,
		Emitted:       status.Emitted,
		Format:        fmt.Sprintf("%dx%d %s", f.Width, f.Height, f.Layout),
		TimeStamp:     time.Now().Unix(),
	}
}

// Register posts one heartbeat and reports whether the registry accepted it.
func Register(ctx context.Context, client *resty.Client, url string, req RegisterRequest) (RegisterResponse, error) {
	var respBody RegisterResponse
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&respBody).
		Post(url)
	if err != nil {
		return respBody, errors.Wrap(err, "register request")
	}
	if resp.IsError() {
		return respBody, errors.Errorf("registry returned %s: %s", resp.Status(), resp.String())
	}
	if !respBody.Success {
		return respBody, errors.Errorf("registry refused %s", req.Id)
	}
	return respBody, nil
}

// SendAliveMessage announces this camera host to the registry every interval
// until ctx is done. Failures are logged and retried on the next tick.
func SendAliveMessage(ctx context.Context, reg RegServerConfig, ip string, port int, status func() iface.PipelineStatus, wg *sync.WaitGroup) {
	defer wg.Done()
	interval := reg.Interval
	if interval <= 0 {
		interval = TimeOutSeconds * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	client := resty.New().SetTimeout(TimeOutSeconds * time.Second)
	url := reg.URL()
	beat := func() {
		req := newRequest(status(), ip, port)
		if _, err := Register(ctx, client, url, req); err != nil && ctx.Err() == nil {
			logger.Log().Warn("heartbeat failed", zap.String("registry", url), zap.Error(err))
		}
	}
	beat()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("heartbeat stopped")
			return
		case <-ticker.C:
			beat()
		}
	}
}
