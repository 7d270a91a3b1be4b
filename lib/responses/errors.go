package responses

import (
	"net/http"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error          bool   `json:"error"`
	Code           int    `json:"code"`
	Message        string `json:"message"`
	HttpStatusCode int    `json:"-"`
}

var GeneralServerError = ErrorResponse{
	Error:          true,
	Code:           6,
	Message:        "Something went wrong. Please try again later",
	HttpStatusCode: 500,
}

var BadArgumentsError = ErrorResponse{
	Error:          true,
	Code:           8,
	Message:        "Bad arguments",
	HttpStatusCode: 400,
}

var NotFoundError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "invoice not found",
	HttpStatusCode: 404,
}

var IllegalTransitionError = ErrorResponse{
	Error:          true,
	Code:           3,
	Message:        "requested state change is not allowed for the invoice's current state",
	HttpStatusCode: 409,
}

var NotDeletableError = ErrorResponse{
	Error:          true,
	Code:           4,
	Message:        "only pending or cancelled invoices can be deleted",
	HttpStatusCode: 409,
}

var UnsupportedAssetError = ErrorResponse{
	Error:          true,
	Code:           5,
	Message:        "unsupported asset family",
	HttpStatusCode: 400,
}

func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	c.Logger().Error(err)
	if hub := sentryecho.GetHubFromContext(c); hub != nil {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetExtra("RequestID", c.Response().Header().Get(echo.HeaderXRequestID))
			hub.CaptureException(err)
		})
	}
	if he, ok := err.(*echo.HTTPError); ok {
		c.JSON(he.Code, he.Message)
	} else {
		c.JSON(http.StatusInternalServerError, GeneralServerError)
	}
}
