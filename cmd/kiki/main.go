// Command kiki is a chat client for OpenAI-compatible backends with a
// built-in relay server.
package main

import "github.com/diogo/kiki/internal/commands"

func main() {
	commands.Execute()
}
