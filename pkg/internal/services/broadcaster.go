package services

import (
	"fmt"

	"github.com/ossdlab/ballotbox/pkg/internal/pubsub"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

// BroadcastVoteUpdate tells live viewers of a poll that its tally changed.
// Delivery is best effort and errors never reach the commit path; clients
// re-fetch authoritative state on reconnect.
func BroadcastVoteUpdate(pollId uint, optionId string) {
	if pubsub.C == nil {
		return
	}

	payload, _ := jsoniter.Marshal(map[string]any{
		"poll_id":   pollId,
		"option_id": optionId,
	})

	subject := fmt.Sprintf("ballotbox.poll.%d", pollId)
	if err := pubsub.C.Publish(subject, payload); err != nil {
		log.Warn().Err(err).Uint("poll", pollId).Msg("An error occurred when broadcasting vote update...")
	}
}
