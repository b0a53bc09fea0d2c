package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/text2rednote/rednotepay/app/models"
	"github.com/text2rednote/rednotepay/app/repository"
	"github.com/text2rednote/rednotepay/internal/pkg/credits"
	"github.com/text2rednote/rednotepay/internal/pkg/usercontext"
)

// CreditsController exposes the ledger to the signed-in user and to the
// generation subsystem.
type CreditsController struct {
	Credits *credits.Service
}

type spendRequest struct {
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// HandleGetBalance returns the caller's balance, creating the ledger user with
// the signup grant on first access.
func (cc *CreditsController) HandleGetBalance(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}
	if _, _, err := cc.Credits.EnsureUser(c.UserContext(), userCtx.UserID, userCtx.Email); err != nil {
		fiberlog.Errorf("[Ledger] ensure user %s failed: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load credits"})
	}

	balance, err := cc.Credits.Balance(c.UserContext(), userCtx.UserID)
	if err != nil {
		fiberlog.Errorf("[Ledger] balance %s failed: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load credits"})
	}
	return c.JSON(fiber.Map{
		"user_id":   userCtx.UserID,
		"credits":   balance,
		"unlimited": balance >= models.UnlimitedCredits,
	})
}

// HandleGetHistory returns the caller's most recent ledger entries.
func (cc *CreditsController) HandleGetHistory(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}
	if _, _, err := cc.Credits.EnsureUser(c.UserContext(), userCtx.UserID, userCtx.Email); err != nil {
		fiberlog.Errorf("[Ledger] ensure user %s failed: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load history"})
	}

	entries, err := cc.Credits.History(c.UserContext(), userCtx.UserID, c.QueryInt("limit", 20))
	if err != nil {
		fiberlog.Errorf("[Ledger] history %s failed: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load history"})
	}
	return c.JSON(fiber.Map{"entries": entries})
}

// HandleSpend debits credits for a generation. Callers authenticate with the
// internal API key.
func (cc *CreditsController) HandleSpend(c *fiber.Ctx) error {
	var req spendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid JSON body"})
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "user_id is required"})
	}

	balance, err := cc.Credits.Spend(c.UserContext(), req.UserID, req.Amount, req.Reference)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"user_id": req.UserID, "credits": balance})
	case errors.Is(err, repository.ErrInvalidAmount):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_amount", "message": "amount must be positive"})
	case errors.Is(err, repository.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
	case errors.Is(err, repository.ErrInsufficientCredits):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "insufficient_credits", "message": "Not enough credits"})
	default:
		fiberlog.Errorf("[Ledger] spend for %s failed: %v", req.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to spend credits"})
	}
}
