// Package pipeline runs the ordered message layers that turn a webhook
// payload into a Matrix message.
//
// # Architecture
//
// Stages execute in two phases, each strictly in order:
//   - Pre stages build the message from the payload (sender, body, format)
//   - Post stages rework the finished message (for example re-hosting images)
//
// Every stage sees the read-only payload and the message accumulator:
//
//	StageInput{Payload, Message, Metadata}
//
// and answers with an action:
//
//	allow   keep going with the current message
//	mutate  replace the message with StageOutput.Message
//	deny    stop, the message is dropped (DeniedError)
//
// A stage returning an error aborts the chain. The caller owns the decision
// of what to do with the message afterwards.
package pipeline
