package handler

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-sync/internal/domain"
	"github.com/kursadbilgin/notification-sync/internal/session"
)

type SessionManager interface {
	SetToken(raw string) (session.AuthState, error)
	Clear()
	State() session.AuthState
}

type sessionRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	Status string       `json:"status"`
	User   *userPayload `json:"user,omitempty"`
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

func RegisterSessionRoutes(router fiber.Router, sessions SessionManager) error {
	if sessions == nil {
		return fmt.Errorf("session manager is required")
	}

	v1 := router.Group("/v1/session")
	v1.Get("/", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(toSessionResponse(sessions.State()))
	})
	v1.Put("/", func(c *fiber.Ctx) error {
		var req sessionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if strings.TrimSpace(req.Token) == "" {
			return fmt.Errorf("%w: token is required", domain.ErrValidation)
		}

		state, err := sessions.SetToken(req.Token)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusOK).JSON(toSessionResponse(state))
	})
	v1.Delete("/", func(c *fiber.Ctx) error {
		sessions.Clear()
		return c.SendStatus(fiber.StatusNoContent)
	})

	return nil
}

func toSessionResponse(state session.AuthState) sessionResponse {
	resp := sessionResponse{Status: state.Status().String()}
	if user, ok := state.User(); ok {
		resp.User = &userPayload{
			ID:    user.ID,
			Email: user.Email,
			Name:  user.Name,
			Phone: user.Phone,
		}
	}
	return resp
}
