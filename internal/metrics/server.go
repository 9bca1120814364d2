package metrics

import (
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var serverLog = logrus.WithField("component", "status_server")

// StateFunc 返回当前发布的状态视图；ok=false 表示尚未发布
type StateFunc func() (any, bool)

// Router 状态/调试路由：
// - /healthz
// - /api/state   当前账户视图
// - /debug/vars  expvar
// - /debug/pprof pprof
func Router(state StateFunc) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.GET("/state", func(c *gin.Context) {
		if state == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "state not available"})
			return
		}
		v, ok := state()
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "state not published yet"})
			return
		}
		c.JSON(http.StatusOK, v)
	})

	debug := r.Group("/debug")
	debug.GET("/vars", gin.WrapH(expvar.Handler()))
	debug.GET("/pprof/", gin.WrapF(pprof.Index))
	debug.GET("/pprof/cmdline", gin.WrapF(pprof.Cmdline))
	debug.GET("/pprof/profile", gin.WrapF(pprof.Profile))
	debug.GET("/pprof/symbol", gin.WrapF(pprof.Symbol))
	debug.GET("/pprof/trace", gin.WrapF(pprof.Trace))
	debug.GET("/pprof/:profile", func(c *gin.Context) {
		pprof.Handler(c.Param("profile")).ServeHTTP(c.Writer, c.Request)
	})
	return r
}

// StartAsync 启动状态服务（非阻塞），ctx.Done() 时优雅关闭
func StartAsync(ctx context.Context, listenAddr string, state StateFunc) (*http.Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	s := &http.Server{
		Addr:              listenAddr,
		Handler:           Router(state),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLog.Errorf("状态服务异常退出: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	return s, nil
}
