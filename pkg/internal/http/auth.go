package http

import (
	"strconv"

	"github.com/ossdlab/ballotbox/pkg/internal/models"
	"github.com/gofiber/fiber/v2"
)

// ResolveVoter trusts the identity headers stamped by the gateway in front
// of this service. Real authentication (token verification, guest key
// lookup) happens there, not here.
func ResolveVoter(c *fiber.Ctx) error {
	if raw := c.Get("X-Voter-Id"); len(raw) > 0 {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			accountId := uint(id)
			c.Locals("voter", models.VoterRef{AccountID: &accountId})
		}
	} else if key := c.Get("X-Guest-Key"); len(key) > 0 {
		c.Locals("voter", models.VoterRef{GuestID: &key})
	}

	return c.Next()
}
