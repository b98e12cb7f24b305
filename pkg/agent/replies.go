package agent

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/dotchat/pkg/channels"
)

// Reply is one outbound message produced while handling an inbound one.
type Reply struct {
	Text    string
	Plain   bool
	Choices []channels.Choice
}

const (
	helpMessage = `Commands:
⚪ /retry - Regenerate last bot answer
⚪ /new - Start new dialog
⚪ /mode - Select chat mode
⚪ /balance - Show balance
⚪ /my_api_key - Show your OpenAI API key
⚪ /set_api_key - Set your own OpenAI API key
⚪ /help - Show help
`
	startGreeting = "Hi! I'm <b>DotChat</b> bot powered by the OpenAI API 🤖\n\n"
	startOutro    = "\nAnd now... ask me anything!"

	timeoutResetNotice = "Starting new dialog due to timeout ✅"
	newDialogNotice    = "Starting new dialog ✅"
	nothingToRetry     = "No message to retry 🤷‍♂️"
	selectModePrompt   = "Select chat mode:"
	editNotSupported   = "🥲 Unfortunately, message <b>editing</b> is not supported"
	completionFailed   = "Something went wrong during completion. Reason: %s"
	genericFailure     = "Something went wrong while processing your message. Please try again later."
	unknownCommand     = "Unknown command. Send /help to see what I can do."
	unknownChatMode    = "This chat mode is not available anymore. Send /mode to pick another one."

	apiKeyTooManyArgs = "too many arguments."
	apiKeyMissingArg  = "need openai api key."
	apiKeySet         = "set new openai api key success."
	apiKeyNotFound    = "api key not found."
	apiKeyShow        = "your openai api key: %s"

	setChatModePrefix = "set_chat_mode|"
)

// truncationNotice tells the user how many leading turns no longer fit the
// model context.
func truncationNotice(dropped int) string {
	if dropped == 1 {
		return "✍️ <i>Note:</i> Your current dialog is too long, so your <b>first message</b> was removed from the context.\n Send /new command to start new dialog"
	}
	return fmt.Sprintf("✍️ <i>Note:</i> Your current dialog is too long, so <b>%d first messages</b> were removed from the context.\n Send /new command to start new dialog", dropped)
}

func modeSetNotice(name string) string {
	return fmt.Sprintf("<b>%s</b> chat mode is set", name)
}

// maskAPIKey keeps just enough of a key to recognize it.
func maskAPIKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:3] + "..." + key[len(key)-4:]
}

func formatted(s string) Reply { return Reply{Text: s} }
func plain(s string) Reply     { return Reply{Text: s, Plain: true} }
