package http_api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	cs "github.com/lidofinance/tssd/client/api/http_api/context_service"
	"github.com/lidofinance/tssd/client/modules/logger"
)

func contextServiceMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		return next(cs.New(ctx))
	}
}

func newHTTPErrorHandler(l logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		csError := &cs.CSErrorResp{Result: struct{}{}, ErrorMessage: http.StatusText(code)}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			csError.ErrorMessage = fmt.Sprintf("%v", he.Message)
		}

		if c.Response().Committed {
			return
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, csError)
		}
		if err != nil {
			l.Error(err, "failed to send error response")
		}
	}
}
