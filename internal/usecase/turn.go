package usecase

import (
	"errors"
	"fmt"

	"satcom-gateway/internal/domain"
)

// ErrNotGatewayTraffic marks a message the gateway does not answer. It is
// not a failure; the message is closed without a reply.
var ErrNotGatewayTraffic = errors.New("usecase: not gateway traffic")

// ParseTurn builds a turn from an inbox message. The reply link is returned
// as found; short links are resolved later, only for turns that will run.
func ParseTurn(msg domain.InboundMessage) (domain.InboundTurn, error) {
	link, ok := replyLink(msg.Body)
	if !ok {
		return domain.InboundTurn{}, fmt.Errorf("%w: no reply link", ErrNotGatewayTraffic)
	}
	prompt, ok := extractPrompt(msg.Body)
	if !ok {
		return domain.InboundTurn{}, fmt.Errorf("%w: no prompt", ErrNotGatewayTraffic)
	}
	return domain.InboundTurn{
		MessageID:      msg.ID,
		SenderAddress:  recipientAddress(msg.To),
		PromptText:     prompt,
		ReplyTargetURL: link,
		Coordinates:    ExtractCoordinates(msg.Body),
	}, nil
}
