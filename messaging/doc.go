// Package messaging implements the client and server halves of the
// jetbridge transport.
//
// The client half is the Requester: events are published fire-and-forget to
// the durable stream, commands are published durably while their replies
// travel back over a transient per-instance inbox subscription and are
// correlated by id. The server half is the Router, which pulls batches from
// the provisioned durable consumers, resolves each subject against the
// registered handler table and acknowledges or replies.
package messaging
