package tui

import "strings"

// slashCommand is a composer command handled by the TUI itself. Image
// commands are not listed here; they go to the controller.
type slashCommand struct {
	name string
	arg  string
}

var localCommands = map[string]string{
	"help":   "help",
	"?":      "help",
	"new":    "new",
	"clear":  "new",
	"model":  "model",
	"models": "models",
	"attach": "attach",
	"detach": "detach",
	"export": "export",
	"copy":   "copy",
	"exit":   "exit",
	"quit":   "exit",
}

// parseCommand recognizes "/name [arg]" for the local commands, plus bare
// "exit" and "quit".
func parseCommand(input string) (slashCommand, bool) {
	input = strings.TrimSpace(input)
	if input == "exit" || input == "quit" {
		return slashCommand{name: "exit"}, true
	}
	if !strings.HasPrefix(input, "/") {
		return slashCommand{}, false
	}

	name, arg, _ := strings.Cut(input[1:], " ")
	canonical, ok := localCommands[strings.ToLower(name)]
	if !ok {
		return slashCommand{}, false
	}
	return slashCommand{name: canonical, arg: strings.TrimSpace(arg)}, true
}

const helpText = `Commands:
  /imagine <prompt>   generate an image (also /img)
  /attach <path>      attach an image to the next message
  /detach             drop the attached image
  /model <id|auto>    pin a model, or return to automatic routing
  /models             list available models
  /new                start a new chat
  /export [md|json|txt|html]  save the conversation
  /copy [last]        copy the conversation or the last reply
  /exit               quit`
