package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	. "github.com/lidofinance/tssd/client/api/dto"
	cs "github.com/lidofinance/tssd/client/api/http_api/context_service"
	req "github.com/lidofinance/tssd/client/api/http_api/requests"
	"github.com/lidofinance/tssd/client/modules/keystore"
)

func (a *HTTPApp) GetPubKey(c echo.Context) error {
	stx := c.(*cs.ContextService)

	formDTO := &PubKeyDTO{}
	if err := stx.BindToDTO(&req.PubKeyForm{}, formDTO); err != nil {
		return stx.JsonError(http.StatusBadRequest, err)
	}

	pubKey, err := a.keyStore.PublicKey(formDTO.Identity)
	switch {
	case errors.Is(err, keystore.ErrNotFound):
		return stx.JsonError(http.StatusNotFound, fmt.Errorf("no key share for %s", formDTO.Identity))
	case err != nil:
		a.logger.Error(err, "failed to get public key of %s", formDTO.Identity)
		return stx.JsonError(http.StatusInternalServerError, errors.New("failed to get public key"))
	}

	return stx.Json(http.StatusOK, pubKey)
}
