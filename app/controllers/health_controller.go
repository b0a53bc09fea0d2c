package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/text2rednote/rednotepay/app/repository"
)

type HealthController struct {
	Store repository.Store
}

func (hc *HealthController) HandleHealthz(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()
	if err := hc.Store.Ping(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
