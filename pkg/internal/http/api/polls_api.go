package api

import (
	"time"

	"github.com/ossdlab/ballotbox/pkg/internal/database"
	"github.com/ossdlab/ballotbox/pkg/internal/http/exts"
	"github.com/ossdlab/ballotbox/pkg/internal/models"
	"github.com/ossdlab/ballotbox/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

func getPoll(c *fiber.Ctx) error {
	pollId, _ := c.ParamsInt("pollId")

	var poll models.Poll
	if err := database.C.Where("id = ?", pollId).First(&poll).Error; err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	poll.Metric = services.GetPollMetric(poll)

	return c.JSON(poll)
}

func listPoll(c *fiber.Ctx) error {
	take := c.QueryInt("take", 10)
	offset := c.QueryInt("offset", 0)

	polls, count, err := services.ListPublicPoll(take, offset)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	return c.JSON(fiber.Map{
		"count": count,
		"data":  polls,
	})
}

func createPoll(c *fiber.Ctx) error {
	accountId, err := exts.EnsureAccount(c)
	if err != nil {
		return err
	}

	var data struct {
		Title       string              `json:"title" validate:"required"`
		Description string              `json:"description"`
		IsPublic    bool                `json:"is_public"`
		Options     []models.PollOption `json:"options" validate:"required,min=1"`
		StartedAt   *time.Time          `json:"started_at"`
		ExpiredAt   *time.Time          `json:"expired_at"`
		EventID     uint                `json:"event_id"`
	}

	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	poll := models.Poll{
		Title:       data.Title,
		Description: data.Description,
		IsPublic:    data.IsPublic,
		Options:     data.Options,
		StartedAt:   data.StartedAt,
		ExpiredAt:   data.ExpiredAt,
		EventID:     data.EventID,
		AccountID:   accountId,
	}

	if poll, err = services.NewPoll(poll); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	return c.JSON(poll)
}

func updatePoll(c *fiber.Ctx) error {
	pollId, _ := c.ParamsInt("pollId")

	accountId, err := exts.EnsureAccount(c)
	if err != nil {
		return err
	}

	var data struct {
		Title       string              `json:"title" validate:"required"`
		Description string              `json:"description"`
		IsPublic    bool                `json:"is_public"`
		IsVoteEnd   bool                `json:"is_vote_end"`
		Options     []models.PollOption `json:"options" validate:"required,min=1"`
		StartedAt   *time.Time          `json:"started_at"`
		ExpiredAt   *time.Time          `json:"expired_at"`
	}

	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	var poll models.Poll
	if err := database.C.Where("id = ? AND account_id = ?", pollId, accountId).First(&poll).Error; err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	poll.Title = data.Title
	poll.Description = data.Description
	poll.IsPublic = data.IsPublic
	poll.IsVoteEnd = data.IsVoteEnd
	poll.Options = data.Options
	poll.StartedAt = data.StartedAt
	poll.ExpiredAt = data.ExpiredAt

	if poll, err = services.UpdatePoll(poll); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	return c.JSON(poll)
}

func deletePoll(c *fiber.Ctx) error {
	pollId, _ := c.ParamsInt("pollId")

	accountId, err := exts.EnsureAccount(c)
	if err != nil {
		return err
	}

	var poll models.Poll
	if err := database.C.Where("id = ? AND account_id = ?", pollId, accountId).First(&poll).Error; err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	if err := database.C.Delete(&poll).Error; err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	return c.JSON(poll)
}
