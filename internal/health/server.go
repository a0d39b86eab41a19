// Package health 提供健康检查和只读状态查询的 HTTP 服务。
package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/autotrader/internal/filter"
)

// FilterLookup 过滤器只读视图
type FilterLookup interface {
	Get(principal string) (filter.AutoTradeFilter, bool)
}

// Server 健康检查服务
type Server struct {
	filters FilterLookup
}

func NewServer(filters FilterLookup) *Server {
	return &Server{filters: filters}
}

// Router gin 路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	if s.filters != nil {
		r.GET("/v1/filters/:principal", s.handleFilterGet)
	}
	return r
}

func (s *Server) handleFilterGet(c *gin.Context) {
	principal := c.Param("principal")
	f, ok := s.filters.Get(principal)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no filter", "principal": principal})
		return
	}
	c.JSON(http.StatusOK, gin.H{"principal": principal, "expression": f.Expression, "interval": f.Interval})
}

// StartAsync 绑定端口后在后台服务，ctx.Done() 时优雅关闭。端口绑定失败同步返回。
func (s *Server) StartAsync(ctx context.Context, listenAddr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("component", "health").Errorf("健康检查服务异常退出: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logrus.WithField("component", "health").Infof("健康检查服务已启动: %s", ln.Addr())
	return srv, nil
}
