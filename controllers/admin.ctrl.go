package controllers

import (
	"errors"
	"net/http"

	"github.com/getAlby/sweephub.go/lib/responses"
	"github.com/getAlby/sweephub.go/lib/service"
	"github.com/labstack/echo/v4"
)

// AdminController : Invoice lifecycle admin controller struct
type AdminController struct {
	svc *service.SweepService
}

func NewAdminController(svc *service.SweepService) *AdminController {
	return &AdminController{svc: svc}
}

// CancelInvoice godoc
// @Summary      Cancel a pending invoice
// @Description  Moves a pending invoice to cancelled so the watcher stops checking it
// @Produce      json
// @Tags         Admin
// @Param        id  path      string  true  "Invoice id"
// @Success      200  {object}  Invoice
// @Failure      404  {object}  responses.ErrorResponse
// @Failure      409  {object}  responses.ErrorResponse
// @Router       /admin/invoices/{id}/cancel [post]
// @Security     AdminToken
func (controller *AdminController) CancelInvoice(c echo.Context) error {
	invoice, err := controller.svc.CancelInvoice(c.Request().Context(), c.Param("id"))
	if err != nil {
		return transitionError(c, err)
	}
	response := newInvoiceResponse(invoice)
	return c.JSON(http.StatusOK, &response)
}

// ReopenInvoice godoc
// @Summary      Reopen a cancelled invoice
// @Description  Moves a cancelled invoice back to pending
// @Produce      json
// @Tags         Admin
// @Param        id  path      string  true  "Invoice id"
// @Success      200  {object}  Invoice
// @Failure      404  {object}  responses.ErrorResponse
// @Failure      409  {object}  responses.ErrorResponse
// @Router       /admin/invoices/{id}/reopen [post]
// @Security     AdminToken
func (controller *AdminController) ReopenInvoice(c echo.Context) error {
	invoice, err := controller.svc.ReopenInvoice(c.Request().Context(), c.Param("id"))
	if err != nil {
		return transitionError(c, err)
	}
	response := newInvoiceResponse(invoice)
	return c.JSON(http.StatusOK, &response)
}

// DeleteInvoice godoc
// @Summary      Delete an invoice record
// @Description  Removes a pending or cancelled invoice. Paid and swept records are kept as the audit trail.
// @Produce      json
// @Tags         Admin
// @Param        id  path  string  true  "Invoice id"
// @Success      204
// @Failure      404  {object}  responses.ErrorResponse
// @Failure      409  {object}  responses.ErrorResponse
// @Router       /admin/invoices/{id} [delete]
// @Security     AdminToken
func (controller *AdminController) DeleteInvoice(c echo.Context) error {
	err := controller.svc.DeleteInvoice(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrInvoiceNotFound) {
			return c.JSON(http.StatusNotFound, responses.NotFoundError)
		}
		if errors.Is(err, service.ErrStateConflict) {
			return c.JSON(http.StatusConflict, responses.NotDeletableError)
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// RequeueSweep godoc
// @Summary      Requeue a stuck sweep
// @Description  Re-emits the paid event for a paid invoice so the sweep handler gets another delivery
// @Produce      json
// @Tags         Admin
// @Param        id  path      string  true  "Invoice id"
// @Success      200  {object}  Invoice
// @Failure      404  {object}  responses.ErrorResponse
// @Failure      409  {object}  responses.ErrorResponse
// @Router       /admin/invoices/{id}/resweep [post]
// @Security     AdminToken
func (controller *AdminController) RequeueSweep(c echo.Context) error {
	invoice, err := controller.svc.RequeueSweep(c.Request().Context(), c.Param("id"))
	if err != nil {
		return transitionError(c, err)
	}
	response := newInvoiceResponse(invoice)
	return c.JSON(http.StatusOK, &response)
}

func transitionError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrInvoiceNotFound) {
		return c.JSON(http.StatusNotFound, responses.NotFoundError)
	}
	if errors.Is(err, service.ErrStateConflict) {
		return c.JSON(http.StatusConflict, responses.IllegalTransitionError)
	}
	return err
}
