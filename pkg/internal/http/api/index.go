package api

import (
	"github.com/gofiber/fiber/v2"
)

func MapAPIs(app *fiber.App) {
	api := app.Group("/api").Name("API")
	{
		polls := api.Group("/polls").Name("Polls API")
		{
			polls.Get("/", listPoll)
			polls.Get("/:pollId", getPoll)
			polls.Post("/", createPoll)
			polls.Put("/:pollId", updatePoll)
			polls.Delete("/:pollId", deletePoll)

			polls.Post("/:pollId/votes", castVote)
			polls.Get("/:pollId/votes/me", getMyVote)
		}
	}
}
