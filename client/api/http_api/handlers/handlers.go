package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	cs "github.com/lidofinance/tssd/client/api/http_api/context_service"
	"github.com/lidofinance/tssd/client/modules/keystore"
	"github.com/lidofinance/tssd/client/modules/logger"
	"github.com/lidofinance/tssd/client/repositories/job"
	"github.com/lidofinance/tssd/client/services"
)

// HTTPApp serves read-only views of the node to operators.
type HTTPApp struct {
	keyStore keystore.KeyStore
	jobs     job.JobRepo
	logger   logger.Logger
}

func NewHTTPApp(sp *services.ServiceProvider) *HTTPApp {
	return &HTTPApp{
		keyStore: sp.GetKeyStore(),
		jobs:     sp.GetJobRepo(),
		logger:   sp.GetLogger(),
	}
}

func (a *HTTPApp) Health(c echo.Context) error {
	return c.(*cs.ContextService).Json(http.StatusOK, "ok")
}
