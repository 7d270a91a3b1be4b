package controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type HealthController struct {
}

func NewHealthController() *HealthController {
	return &HealthController{}
}

type HealthResponse struct {
	Result string `json:"result"`
}

// Health godoc
// @Summary      Check system health
// @Description  Check system health
// @Produce      json
// @Tags         System
// @Success      200  {object}  HealthResponse
// @Router       /health [get]
func (controller *HealthController) Check(c echo.Context) error {
	return c.JSON(http.StatusOK, &HealthResponse{
		Result: "OK",
	})
}
