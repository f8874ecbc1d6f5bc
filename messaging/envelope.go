package messaging

import (
	"github.com/nats-io/nats.go"

	"github.com/HorizonRepublic/jetbridge-go/contracts"
)

// envelopeToMsg maps an Envelope onto the broker message. Correlation
// headers are set only when present, so fire-and-forget events carry just
// the id and subject.
func envelopeToMsg(env contracts.Envelope) *nats.Msg {
	msg := &nats.Msg{
		Subject: env.Subject,
		Data:    env.Payload,
		Header:  nats.Header{},
	}
	msg.Header.Set(contracts.HeaderMessageID, env.ID)
	msg.Header.Set(contracts.HeaderSubject, env.Subject)
	if env.CorrelationID != "" {
		msg.Header.Set(contracts.HeaderCorrelationID, env.CorrelationID)
	}
	if env.ReplyTo != "" {
		msg.Header.Set(contracts.HeaderReplyTo, env.ReplyTo)
	}
	return msg
}
