// Package notify delivers account emails (verification, password reset) on
// behalf of the engine.
//
// The engine only depends on [Sender]. [AMQPSender] hands messages to a mail
// worker over RabbitMQ, [LogSender] writes them to the log for development,
// and [Async] turns any Sender into a fire-and-forget dispatcher so delivery
// never blocks token issuance.
package notify
