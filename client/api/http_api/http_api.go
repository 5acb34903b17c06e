package http_api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lidofinance/tssd/client/api/http_api/handlers"
	"github.com/lidofinance/tssd/client/api/http_api/router"
	"github.com/lidofinance/tssd/client/config"
	"github.com/lidofinance/tssd/client/services"
)

// RESTApiProvider is the operator API of a running node.
type RESTApiProvider struct {
	config       config.HttpApiConfig
	echoInstance *echo.Echo
}

func NewServer(cfg config.HttpApiConfig, sp *services.ServiceProvider) *RESTApiProvider {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = newHTTPErrorHandler(sp.GetLogger())
	e.Use(contextServiceMiddleware)

	router.SetRouter(e, handlers.NewHTTPApp(sp))

	return &RESTApiProvider{config: cfg, echoInstance: e}
}

// Start serves until Stop is called.
func (p *RESTApiProvider) Start() error {
	if err := p.echoInstance.Start(p.config.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (p *RESTApiProvider) Stop(ctx context.Context) error {
	return p.echoInstance.Shutdown(ctx)
}

func (p *RESTApiProvider) Handler() http.Handler {
	return p.echoInstance
}
