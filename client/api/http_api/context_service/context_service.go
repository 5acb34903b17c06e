package context_service

import (
	"fmt"

	"github.com/censync/go-dto"
	"github.com/censync/go-validator"
	"github.com/labstack/echo/v4"
)

type ContextService struct {
	echo.Context
}

func New(c echo.Context) *ContextService {
	return &ContextService{c}
}

type CSJsonResp struct {
	Result interface{} `json:"result"`
}

// CSErrorResp is the body of every failed request.
type CSErrorResp struct {
	Result       interface{} `json:"result"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

func (e *CSErrorResp) Error() string {
	if e == nil {
		return ""
	}
	return e.ErrorMessage
}

// BindToDTO binds query parameters to requestForm, validates it and maps it
// onto dtoForm.
func (cs *ContextService) BindToDTO(requestForm, dtoForm interface{}) error {
	if err := cs.Bind(requestForm); err != nil {
		return fmt.Errorf("failed to read request: %v", err)
	}
	if err := validator.Validate(requestForm); !err.IsEmpty() {
		return err.Error()
	}
	return dto.RequestToDTO(dtoForm, requestForm)
}

func (cs *ContextService) Json(code int, data interface{}) error {
	if data == nil {
		data = struct{}{}
	}
	return cs.JSON(code, &CSJsonResp{Result: data})
}

func (cs *ContextService) JsonError(code int, err error) error {
	msg := "undefined error"
	if err != nil {
		msg = err.Error()
	}
	return cs.JSON(code, &CSErrorResp{Result: struct{}{}, ErrorMessage: msg})
}
