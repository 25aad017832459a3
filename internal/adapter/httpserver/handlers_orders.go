package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/orderpulse/internal/domain"
	apperrors "github.com/pscheid92/orderpulse/internal/platform/errors"
)

func (s *Server) registerOrderRoutes(api *echo.Group) {
	api.POST("/orders/status", s.handleUpdateOrderStatus)
	api.GET("/orders/status", s.handleGetOrderStatus)
}

func (s *Server) handleUpdateOrderStatus(c echo.Context) error {
	var cmd domain.StatusUpdate
	if err := c.Bind(&cmd); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if err := validatePayload(&cmd); err != nil {
		return err
	}

	if _, err := s.app.UpdateOrderStatus(c.Request().Context(), cmd); err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, map[string]bool{"success": true}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetOrderStatus(c echo.Context) error {
	orderID := c.QueryParam("orderId")
	if orderID == "" {
		return apperrors.ValidationError("orderId is required")
	}

	state, err := s.app.GetOrderStatus(c.Request().Context(), orderID, c.QueryParam("restaurantId"))
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, state); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
