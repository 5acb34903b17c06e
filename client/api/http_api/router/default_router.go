package router

import (
	"github.com/labstack/echo/v4"

	"github.com/lidofinance/tssd/client/api/http_api/handlers"
)

func SetRouter(e *echo.Echo, h *handlers.HTTPApp) {
	e.GET("/healthz", h.Health)
	e.GET("/getPubKey", h.GetPubKey)
	e.GET("/getJob", h.GetJob)
}
