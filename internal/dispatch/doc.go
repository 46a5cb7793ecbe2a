// Package dispatch implements the real-time message fan-out pipeline.
//
// # Flow
//
// Every inbound send, whether from a websocket event or a REST call, runs the
// same sequence:
//
//  1. Resolve the effective sender identity (a manager posting into a managed
//     conversation sends as the managed account).
//  2. Append the message to the store; the conversation summary mutates in
//     the same transaction.
//  3. Resolve the recipient identity set: participants plus the managed
//     account's owner.
//  4. Push the persisted message to every live handle of every recipient.
//
// Persistence happens-before push. Push is fire-and-forget: a failed push
// never aborts delivery to other handles, and there is no retry — offline
// recipients catch up by pulling conversation history. A handle whose push
// fails is removed from the registry and closed.
//
// # Echo policy
//
// The sender's own identity is part of the recipient set, so the sender's
// other devices (and the sending device itself) receive the echo. Clients
// deduplicate their own outbound echo at the edge.
package dispatch
