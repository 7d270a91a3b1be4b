package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/getAlby/sweephub.go/db/models"
	"github.com/getAlby/sweephub.go/lib/responses"
	"github.com/getAlby/sweephub.go/lib/service"
	"github.com/labstack/echo/v4"
	qrcode "github.com/skip2/go-qrcode"
)

// InvoiceController : Deposit invoice controller struct
type InvoiceController struct {
	svc *service.SweepService
}

func NewInvoiceController(svc *service.SweepService) *InvoiceController {
	return &InvoiceController{svc: svc}
}

type Invoice struct {
	ID              string    `json:"id"`
	Address         string    `json:"address"`
	PaymentRequest  string    `json:"payment_request"`
	AssetFamily     string    `json:"asset_family"`
	TokenMint       string    `json:"token_mint,omitempty"`
	TokenSymbol     string    `json:"token_symbol,omitempty"`
	Amount          string    `json:"amount"`
	State           string    `json:"state"`
	IsPaid          bool      `json:"is_paid"`
	SweepTxID       string    `json:"sweep_tx_id,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	DerivationIndex uint64    `json:"derivation_index"`
	CreatedAt       time.Time `json:"created_at"`
	PaidAt          time.Time `json:"paid_at,omitempty"`
	SweptAt         time.Time `json:"swept_at,omitempty"`
}

func newInvoiceResponse(invoice *models.Invoice) Invoice {
	return Invoice{
		ID:              invoice.ID,
		Address:         invoice.Address,
		PaymentRequest:  invoice.PaymentURI(),
		AssetFamily:     invoice.AssetFamily,
		TokenMint:       invoice.TokenMint,
		TokenSymbol:     invoice.TokenSymbol,
		Amount:          invoice.Amount,
		State:           invoice.State,
		IsPaid:          invoice.IsPaid(),
		SweepTxID:       invoice.SweepTxID,
		ErrorMessage:    invoice.ErrorMessage,
		DerivationIndex: invoice.DerivationIndex,
		CreatedAt:       invoice.CreatedAt,
		PaidAt:          invoice.PaidAt.Time,
		SweptAt:         invoice.SweptAt.Time,
	}
}

type AddInvoiceRequestBody struct {
	AssetFamily string `json:"asset_family" validate:"required"`
	TokenMint   string `json:"token_mint"`
	TokenSymbol string `json:"token_symbol"`
	Amount      string `json:"amount" validate:"required"`
}

type GetInvoicesResponseBody struct {
	Invoices []Invoice `json:"invoices"`
}

// AddInvoice godoc
// @Summary      Create a deposit invoice
// @Description  Derives a fresh deposit address and returns the pending invoice
// @Accept       json
// @Produce      json
// @Tags         Invoice
// @Param        invoice  body      AddInvoiceRequestBody  True  "Add Invoice"
// @Success      200      {object}  Invoice
// @Failure      400      {object}  responses.ErrorResponse
// @Failure      500      {object}  responses.ErrorResponse
// @Router       /v1/invoices [post]
func (controller *InvoiceController) AddInvoice(c echo.Context) error {
	var body AddInvoiceRequestBody

	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load addinvoice request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	if err := c.Validate(&body); err != nil {
		c.Logger().Errorf("Invalid addinvoice request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	invoice, err := controller.svc.AddInvoice(c.Request().Context(), body.AssetFamily, body.TokenMint, body.TokenSymbol, body.Amount)
	if err != nil {
		c.Logger().Errorf("Failed to create invoice: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	response := newInvoiceResponse(invoice)
	return c.JSON(http.StatusOK, &response)
}

// GetInvoices godoc
// @Summary      List deposit invoices
// @Description  Returns invoices, newest first, optionally filtered by state
// @Produce      json
// @Tags         Invoice
// @Param        state    query     string  false  "Filter by state"
// @Param        limit    query     int     false  "Page size"
// @Param        offset   query     int     false  "Page offset"
// @Success      200      {object}  GetInvoicesResponseBody
// @Failure      500      {object}  responses.ErrorResponse
// @Router       /v1/invoices [get]
func (controller *InvoiceController) GetInvoices(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	invoices, err := controller.svc.InvoicesFor(c.Request().Context(), c.QueryParam("state"), limit, offset)
	if err != nil {
		return err
	}

	response := make([]Invoice, len(invoices))
	for i, invoice := range invoices {
		response[i] = newInvoiceResponse(&invoice)
	}
	return c.JSON(http.StatusOK, &GetInvoicesResponseBody{Invoices: response})
}

// GetInvoice godoc
// @Summary      Retrieve a deposit invoice
// @Description  Returns a single invoice by id
// @Produce      json
// @Tags         Invoice
// @Param        id  path      string  true  "Invoice id"
// @Success      200  {object}  Invoice
// @Failure      404  {object}  responses.ErrorResponse
// @Failure      500  {object}  responses.ErrorResponse
// @Router       /v1/invoices/{id} [get]
func (controller *InvoiceController) GetInvoice(c echo.Context) error {
	invoice, err := controller.svc.FindInvoice(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrInvoiceNotFound) {
			return c.JSON(http.StatusNotFound, responses.NotFoundError)
		}
		return err
	}

	response := newInvoiceResponse(invoice)
	return c.JSON(http.StatusOK, &response)
}

// GetInvoiceQR godoc
// @Summary      Render an invoice payment QR code
// @Description  Returns a PNG QR code encoding the invoice's payment URI
// @Produce      png
// @Tags         Invoice
// @Param        id  path  string  true  "Invoice id"
// @Success      200
// @Failure      404  {object}  responses.ErrorResponse
// @Failure      500  {object}  responses.ErrorResponse
// @Router       /v1/invoices/{id}/qr [get]
func (controller *InvoiceController) GetInvoiceQR(c echo.Context) error {
	invoice, err := controller.svc.FindInvoice(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrInvoiceNotFound) {
			return c.JSON(http.StatusNotFound, responses.NotFoundError)
		}
		return err
	}

	png, err := qrcode.Encode(invoice.PaymentURI(), qrcode.Medium, 256)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "image/png", png)
}
