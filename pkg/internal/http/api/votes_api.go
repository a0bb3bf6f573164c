package api

import (
	"errors"

	"github.com/ossdlab/ballotbox/pkg/internal/http/exts"
	"github.com/ossdlab/ballotbox/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

func castVote(c *fiber.Ctx) error {
	pollId, _ := c.ParamsInt("pollId")

	voter, err := exts.EnsureVoter(c)
	if err != nil {
		return err
	}

	var data struct {
		OptionID string `json:"option_id" validate:"required"`
		Weight   int    `json:"weight"`
	}

	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	handle, err := services.EnqueueVote(voter, uint(pollId), data.OptionID, data.Weight)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPollClosed):
			return fiber.NewError(fiber.StatusBadRequest, "poll has been ended")
		case errors.Is(err, services.ErrUnknownOption):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		default:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
	}

	// The actual commit happens asynchronously; this only confirms intake.
	return c.Status(fiber.StatusAccepted).JSON(handle)
}

func getMyVote(c *fiber.Ctx) error {
	pollId, _ := c.ParamsInt("pollId")

	voter, err := exts.EnsureVoter(c)
	if err != nil {
		return err
	}

	vote, err := services.GetVoteOnPoll(voter, uint(pollId))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	return c.JSON(vote)
}
