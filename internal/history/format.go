package history

import "fmt"

// Sent formats a line published to the broker.
func Sent(user, text string) string {
	return fmt.Sprintf("Sent by %s: %s", user, text)
}

// SentStandalone formats a line entered while no broker is in use.
func SentStandalone(user, text string) string {
	return fmt.Sprintf("Sent by %s (standalone): %s", user, text)
}

// Received formats a line consumed from the broker.
func Received(sender, message string) string {
	return fmt.Sprintf("Received from %s: %s", sender, message)
}
