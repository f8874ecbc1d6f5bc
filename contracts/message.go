package contracts

import (
	"fmt"
	"strings"
)

// Kind identifies one of the two logical message kinds carried by the
// transport. Each kind maps to its own durable stream and consumer.
type Kind string

const (
	// KindEvent is a fire-and-forget notification.
	KindEvent Kind = "ev"

	// KindCommand is a request that expects an asynchronous reply.
	KindCommand Kind = "cmd"
)

// Kinds lists all message kinds in provisioning order.
var Kinds = []Kind{KindEvent, KindCommand}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindEvent || k == KindCommand
}

func (k Kind) String() string {
	return string(k)
}

// Message header keys. All values are plain strings.
const (
	HeaderMessageID     = "Jb-Msg-Id"
	HeaderSubject       = "Jb-Subject"
	HeaderCorrelationID = "Jb-Correlation-Id"
	HeaderReplyTo       = "Jb-Reply-To"
)

// StreamName returns the durable stream name for a service and kind,
// e.g. "orders_ev-stream".
func StreamName(service string, kind Kind) string {
	return fmt.Sprintf("%s_%s-stream", service, kind)
}

// ConsumerName returns the durable consumer name for a service and kind,
// e.g. "orders_cmd-consumer".
func ConsumerName(service string, kind Kind) string {
	return fmt.Sprintf("%s_%s-consumer", service, kind)
}

// Subject computes the publish subject for a pattern,
// e.g. Subject("orders", KindEvent, "created") == "orders.ev.created".
func Subject(service string, kind Kind, pattern string) string {
	return fmt.Sprintf("%s.%s.%s", service, kind, pattern)
}

// SubjectRoot returns the wildcard subject covering every pattern of a kind.
// All hierarchical sub-subjects route into the same stream.
func SubjectRoot(service string, kind Kind) string {
	return fmt.Sprintf("%s.%s.>", service, kind)
}

// PatternFromSubject strips the "{service}.{kind}." prefix from a delivered
// subject, returning the handler pattern portion. The second return value is
// false if the subject does not belong to the given service and kind.
func PatternFromSubject(service string, kind Kind, subject string) (string, bool) {
	prefix := fmt.Sprintf("%s.%s.", service, kind)
	if !strings.HasPrefix(subject, prefix) {
		return "", false
	}
	pattern := strings.TrimPrefix(subject, prefix)
	if pattern == "" {
		return "", false
	}
	return pattern, true
}

// Envelope wraps a payload for transport. ID and Subject are always present;
// CorrelationID and ReplyTo only on command requests expecting a reply.
type Envelope struct {
	ID            string
	Subject       string
	CorrelationID string
	ReplyTo       string
	Payload       []byte
}
