package exts

import (
	"github.com/ossdlab/ballotbox/pkg/internal/models"
	"github.com/gofiber/fiber/v2"
)

func EnsureVoter(c *fiber.Ctx) (models.VoterRef, error) {
	voter, ok := c.Locals("voter").(models.VoterRef)
	if !ok {
		return voter, fiber.NewError(fiber.StatusUnauthorized, "a resolved voter identity is required")
	}
	return voter, nil
}

func EnsureAccount(c *fiber.Ctx) (uint, error) {
	voter, err := EnsureVoter(c)
	if err != nil {
		return 0, err
	}
	if voter.AccountID == nil {
		return 0, fiber.NewError(fiber.StatusForbidden, "this action requires a registered account")
	}
	return *voter.AccountID, nil
}
