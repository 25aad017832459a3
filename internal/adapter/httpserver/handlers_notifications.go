package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/orderpulse/internal/domain"
	apperrors "github.com/pscheid92/orderpulse/internal/platform/errors"
)

type createdResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

func (s *Server) registerNotificationRoutes(api *echo.Group) {
	api.POST("/notifications/broadcast", s.handleBroadcastNotification)
	api.POST("/notifications/send", s.handleSendNotification)
	api.GET("/notifications/pending", s.handlePendingNotifications)
	api.POST("/notifications/:id/read", s.handleMarkNotificationRead)
}

func (s *Server) handleBroadcastNotification(c echo.Context) error {
	var req domain.BroadcastRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if err := validatePayload(&req); err != nil {
		return err
	}

	rec, err := s.app.BroadcastNotification(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return writeCreated(c, rec.ID)
}

func (s *Server) handleSendNotification(c echo.Context) error {
	var req domain.TargetedRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if err := validatePayload(&req); err != nil {
		return err
	}

	rec, err := s.app.SendNotification(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return writeCreated(c, rec.ID)
}

func (s *Server) handlePendingNotifications(c echo.Context) error {
	userID := c.QueryParam("userId")
	if userID == "" {
		return apperrors.ValidationError("userId is required")
	}

	pending, err := s.app.PendingNotifications(c.Request().Context(), userID, c.QueryParam("restaurantId"))
	if err != nil {
		return err
	}
	if pending == nil {
		pending = []domain.NotificationRecord{}
	}

	if err := c.JSON(http.StatusOK, pending); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleMarkNotificationRead(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.app.MarkNotificationRead(c.Request().Context(), id); err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, map[string]bool{"success": true}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func writeCreated(c echo.Context, id string) error {
	if err := c.JSON(http.StatusOK, createdResponse{Success: true, ID: id}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
