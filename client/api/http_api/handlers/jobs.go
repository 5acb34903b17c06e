package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	. "github.com/lidofinance/tssd/client/api/dto"
	cs "github.com/lidofinance/tssd/client/api/http_api/context_service"
	req "github.com/lidofinance/tssd/client/api/http_api/requests"
	"github.com/lidofinance/tssd/client/repositories/job"
)

func (a *HTTPApp) GetJob(c echo.Context) error {
	stx := c.(*cs.ContextService)

	formDTO := &JobDTO{}
	if err := stx.BindToDTO(&req.JobForm{}, formDTO); err != nil {
		return stx.JsonError(http.StatusBadRequest, err)
	}

	kind := job.Kind(formDTO.Kind)
	if kind != job.KindSign && kind != job.KindKeygen {
		return stx.JsonError(http.StatusBadRequest, fmt.Errorf("unknown job kind %q", formDTO.Kind))
	}

	j, err := a.jobs.Get(kind, formDTO.ID)
	if err != nil {
		a.logger.Error(err, "failed to get %s job %s", kind, formDTO.ID)
		return stx.JsonError(http.StatusInternalServerError, errors.New("failed to get job"))
	}
	if j == nil {
		return stx.JsonError(http.StatusNotFound, fmt.Errorf("%s job %s not found", kind, formDTO.ID))
	}

	return stx.Json(http.StatusOK, j)
}
