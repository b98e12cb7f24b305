package agent

import (
	"context"
	"testing"

	"github.com/dotsetgreg/dotchat/pkg/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	name, args := parseCommand("/set_api_key@DotChatBot  sk-123 ")
	assert.Equal(t, "set_api_key", name)
	assert.Equal(t, []string{"sk-123"}, args)

	name, args = parseCommand("/NEW")
	assert.Equal(t, "new", name)
	assert.Empty(t, args)

	name, _ = parseCommand("hello")
	assert.Equal(t, "", name)
}

func TestCommand_StartResetsDialog(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.orch.HandleIncoming(ctx, inbound("alice", "", bus.KindText), "hi", false)
	require.NoError(t, err)

	replies, err := h.orch.Process(ctx, inbound("alice", "/start", bus.KindCommand))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "<b>DotChat</b>")
	assert.Contains(t, replies[0].Text, "/retry")
	assert.Empty(t, h.history(t, "alice"))
}

func TestCommand_HelpRegistersUser(t *testing.T) {
	h := newHarness(t)
	replies, err := h.orch.Process(context.Background(), inbound("bob", "/help", bus.KindCommand))
	require.NoError(t, err)
	assert.Equal(t, []string{helpMessage}, replyTexts(replies))

	_, err = h.sessions.User(context.Background(), "test:bob")
	assert.NoError(t, err)
}

func TestCommand_NewSendsWelcome(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.orch.HandleIncoming(ctx, inbound("alice", "", bus.KindText), "hi", false)
	require.NoError(t, err)

	replies, err := h.orch.Process(ctx, inbound("alice", "/new", bus.KindCommand))
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, newDialogNotice, replies[0].Text)
	assert.Equal(t, h.sessions.Catalog().Default().WelcomeMessage, replies[1].Text)
	assert.Empty(t, h.history(t, "alice"))
}

func TestCommand_ModeOffersEveryCatalogMode(t *testing.T) {
	h := newHarness(t)
	replies, err := h.orch.Process(context.Background(), inbound("alice", "/mode", bus.KindCommand))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, selectModePrompt, replies[0].Text)

	modes := h.sessions.Catalog().Modes()
	require.Len(t, replies[0].Choices, len(modes))
	for i, m := range modes {
		assert.Equal(t, m.Name, replies[0].Choices[i].Label)
		assert.Equal(t, "set_chat_mode|"+m.Key, replies[0].Choices[i].Data)
	}
}

func TestCallback_SetChatMode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.orch.HandleIncoming(ctx, inbound("alice", "", bus.KindText), "hi", false)
	require.NoError(t, err)

	replies, err := h.orch.Process(ctx, inbound("alice", "set_chat_mode|movie_expert", bus.KindCallback))
	require.NoError(t, err)
	movie, ok := h.sessions.Catalog().Get("movie_expert")
	require.True(t, ok)
	assert.Equal(t, []string{"<b>" + movie.Name + "</b> chat mode is set", movie.WelcomeMessage}, replyTexts(replies))
	assert.Empty(t, h.history(t, "alice"))

	_, err = h.orch.HandleIncoming(ctx, inbound("alice", "", bus.KindText), "film?", false)
	require.NoError(t, err)
	assert.Equal(t, "movie_expert", h.completer.lastRequest(t).Mode.Key)
}

func TestCallback_UnknownModeAndData(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	replies, err := h.orch.Process(ctx, inbound("alice", "set_chat_mode|poet", bus.KindCallback))
	require.NoError(t, err)
	assert.Equal(t, []string{unknownChatMode}, replyTexts(replies))

	mode, err := h.sessions.ChatMode(ctx, "test:alice")
	require.NoError(t, err)
	assert.Equal(t, "assistant", mode.Key)

	replies, err = h.orch.Process(ctx, inbound("alice", "something_else", bus.KindCallback))
	require.NoError(t, err)
	assert.Empty(t, replies)
}

func TestCommand_Balance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.completer.answer("Hi!", 12345)
	_, err := h.orch.HandleIncoming(ctx, inbound("alice", "", bus.KindText), "Hello", false)
	require.NoError(t, err)

	replies, err := h.orch.Process(ctx, inbound("alice", "/balance", bus.KindCommand))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "You spent <b>0.025$</b>")
	assert.Contains(t, replies[0].Text, "You used <b>12345</b> tokens")
}

func TestCommand_APIKeyLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	run := func(content string) []string {
		t.Helper()
		replies, err := h.orch.Process(ctx, inbound("alice", content, bus.KindCommand))
		require.NoError(t, err)
		return replyTexts(replies)
	}

	assert.Equal(t, []string{apiKeyNotFound}, run("/my_api_key"))
	assert.Equal(t, []string{apiKeyMissingArg}, run("/set_api_key"))
	assert.Equal(t, []string{apiKeyTooManyArgs}, run("/set_api_key a b"))
	assert.Equal(t, []string{apiKeySet}, run("/set_api_key sk-abcdefghijkl1234"))
	assert.Equal(t, []string{"your openai api key: sk-...1234"}, run("/showkey"))
	assert.Equal(t, []string{apiKeySet}, run("/setkey sk-other-key-5678"))

	_, err := h.orch.HandleIncoming(ctx, inbound("alice", "", bus.KindText), "hi", false)
	require.NoError(t, err)
	assert.Equal(t, "sk-other-key-5678", h.completer.lastRequest(t).APIKey)
}

func TestCommand_Unknown(t *testing.T) {
	h := newHarness(t)
	replies, err := h.orch.Process(context.Background(), inbound("alice", "/dance", bus.KindCommand))
	require.NoError(t, err)
	assert.Equal(t, []string{unknownCommand}, replyTexts(replies))
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "", maskAPIKey(""))
	assert.Equal(t, "*****", maskAPIKey("short"))
	assert.Equal(t, "sk-...wxyz", maskAPIKey("sk-abcdefghijklmnopqrstuvwxyz"))
}
