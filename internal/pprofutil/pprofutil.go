package pprofutil

import (
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultAddr = "127.0.0.1:6060"

var (
	startOnce sync.Once
	startErr  error
	boundAddr string
)

// StartFromEnv starts an optional pprof HTTP server when XCM_LITE_PPROF=1
// and returns the bound address ("" when disabled). The profiler stays off
// the relay's own listener so profiling load never competes with message
// submission.
func StartFromEnv() (string, error) {
	if strings.TrimSpace(os.Getenv("XCM_LITE_PPROF")) != "1" {
		return "", nil
	}
	startOnce.Do(func() {
		addr := strings.TrimSpace(os.Getenv("XCM_LITE_PPROF_ADDR"))
		if addr == "" {
			addr = defaultAddr
		}
		allowPublic := strings.TrimSpace(os.Getenv("XCM_LITE_PPROF_ALLOW_PUBLIC")) == "1"
		if !allowPublic && !isLoopbackBind(addr) {
			startErr = fmt.Errorf("XCM_LITE_PPROF_ADDR must be loopback unless XCM_LITE_PPROF_ALLOW_PUBLIC=1: %s", addr)
			return
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			startErr = fmt.Errorf("pprof listen failed: %w", err)
			return
		}
		boundAddr = ln.Addr().String()
		srv := &http.Server{
			Addr:              boundAddr,
			Handler:           http.DefaultServeMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			_ = srv.Serve(ln)
		}()
	})
	return boundAddr, startErr
}

func isLoopbackBind(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
