package gin

import (
	"log/slog"

	"github.com/FabienMht/ginslog/logger"
	"github.com/FabienMht/ginslog/recovery"
	"github.com/gin-gonic/gin"
)

type HandlerFunc = gin.HandlerFunc
type Engine = gin.Engine

func New(middlewares ...HandlerFunc) *Engine {
	e := gin.New()
	e.Use(middlewares...)
	return e
}

// Logger returns a middleware which logs requests with the default
// slog logger, so the HTTP access logs and the application logs share
// one structured stream.
func Logger() HandlerFunc {
	return logger.New(slog.Default())
}

// Recovery returns a middleware which recovers request handler panics,
// logging them with the default slog logger and responding with an
// internal server error status.
func Recovery() HandlerFunc {
	return recovery.New(slog.Default())
}
