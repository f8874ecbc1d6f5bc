// Package contracts provides the core wire types for the jetbridge transport.
//
// It defines the subject and naming scheme shared by the client and server
// sides, the message Envelope that carries payloads over the broker, and the
// pluggable payload Codec:
//   - Kind: the two logical message kinds (event, command)
//   - Envelope: transport wrapper with id, subject and correlation headers
//   - Codec: pluggable payload encoding, UTF-8 JSON by default
//
// Subject and name layout is deterministic per service so that independent
// instances of the same service address the same durable streams and
// consumers.
package contracts
