package aithena

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/discordgo"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGuildID = "770000000000000001"

// mockSession records everything sent through the DiscordSessionHandler
// interface.
type mockSession struct {
	opened    bool
	closed    bool
	responses []*discordgo.InteractionResponse
	followups []*discordgo.WebhookParams
	statuses  []string
	commands  []*discordgo.ApplicationCommand
}

func (m *mockSession) Open() error {
	m.opened = true
	return nil
}

func (m *mockSession) Close() error {
	m.closed = true
	return nil
}

func (m *mockSession) AddHandler(any) func() {
	return func() {}
}

func (m *mockSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.commands = commands
	return commands, nil
}

func (m *mockSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	m.responses = append(m.responses, resp)
	return nil
}

func (m *mockSession) FollowupMessageCreate(
	_ *discordgo.Interaction,
	_ bool,
	data *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.followups = append(m.followups, data)
	return &discordgo.Message{}, nil
}

func (m *mockSession) UpdateCustomStatus(state string) error {
	m.statuses = append(m.statuses, state)
	return nil
}

func newTestDiscord(
	t testing.TB,
	cfg *Config,
	provider *mockCompletionProvider,
) (*Discord, *mockSession) {
	t.Helper()
	bot, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			if sqlDB, dbErr := bot.db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
		},
	)
	if provider != nil {
		bot.SetProvider(provider)
	}
	session := &mockSession{}
	bot.discord.session = session
	return bot.discord, session
}

// guildInteraction builds a slash command interaction as received from a
// guild channel.
func guildInteraction(
	user *discordgo.User,
	channelID uint64,
	name string,
	opts ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "990000000000000001",
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   testGuildID,
			ChannelID: fmt.Sprintf("%d", channelID),
			Member:    &discordgo.Member{User: user},
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    name,
				Options: opts,
			},
		},
	}
}

func stringOptionValue(name string, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Type:  discordgo.ApplicationCommandOptionString,
		Name:  name,
		Value: value,
	}
}

func testUser(id uint64) *discordgo.User {
	return &discordgo.User{
		ID:       fmt.Sprintf("%d", id),
		Username: fmt.Sprintf("user-%d", id),
	}
}

func TestDiscordConnect(t *testing.T) {
	cfg := newTestConfig(t)
	discord, session := newTestDiscord(t, cfg, nil)

	require.NoError(t, discord.connect(context.Background()))
	assert.True(t, session.opened)
	assert.True(t, discord.connected.Load())

	// all slash commands registered in one overwrite
	names := make([]string, 0, len(session.commands))
	for _, cmd := range session.commands {
		names = append(names, cmd.Name)
	}
	assert.ElementsMatch(
		t,
		[]string{
			DiscordSlashCommandChat,
			DiscordSlashCommandPrivate,
			DiscordSlashCommandImage,
			DiscordSlashCommandUsage,
			DiscordSlashCommandLastChat,
			DiscordSlashCommandLastImage,
			DiscordSlashCommandConfig,
		},
		names,
	)
	assert.Equal(t, []string{cfg.Discord.CustomStatus}, session.statuses)

	require.NoError(t, discord.close())
	assert.True(t, session.closed)
	assert.False(t, discord.connected.Load())
}

func TestHandleChatCommand(t *testing.T) {
	cfg := newTestConfig(t)
	provider := &mockCompletionProvider{
		chatFn: func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			return chatResponse("a thoughtful reply", 10, 20), nil
		},
	}
	discord, session := newTestDiscord(t, cfg, provider)

	discord.handleInteractionCreate(
		nil,
		guildInteraction(
			testUser(testUserID),
			testChannelID,
			DiscordSlashCommandChat,
			stringOptionValue(chatCommandPromptOption, "say something thoughtful"),
		),
	)

	// deferred ack, then the response as a followup
	require.Len(t, session.responses, 1)
	assert.Equal(
		t,
		discordgo.InteractionResponseDeferredChannelMessageWithSource,
		session.responses[0].Type,
	)
	require.Len(t, session.followups, 1)
	assert.Equal(t, "a thoughtful reply", session.followups[0].Content)
	assert.Zero(t, session.followups[0].Flags)

	require.NotNil(t, provider.lastChatRequest)
	assert.Equal(
		t,
		"say something thoughtful",
		provider.lastChatRequest.Messages[0].Content,
	)
}

func TestHandlePrivateCommandIsEphemeral(t *testing.T) {
	cfg := newTestConfig(t)
	provider := &mockCompletionProvider{
		chatFn: func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			return chatResponse("just between us", 10, 20), nil
		},
	}
	discord, session := newTestDiscord(t, cfg, provider)

	discord.handleInteractionCreate(
		nil,
		guildInteraction(
			testUser(testUserID),
			testChannelID,
			DiscordSlashCommandPrivate,
			stringOptionValue(chatCommandPromptOption, "a secret"),
		),
	)

	require.Len(t, session.responses, 1)
	assert.Equal(
		t,
		discordgo.MessageFlagsEphemeral,
		session.responses[0].Data.Flags,
	)
	require.Len(t, session.followups, 1)
	assert.Equal(t, "just between us", session.followups[0].Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, session.followups[0].Flags)
}

func TestHandleImageCommand(t *testing.T) {
	cfg := newTestConfig(t)
	provider := &mockCompletionProvider{
		imageFn: func(openai.ImageRequest) (openai.ImageResponse, error) {
			return openai.ImageResponse{
				Data: []openai.ImageResponseDataInner{
					{URL: "https://example.com/generated.png"},
				},
			}, nil
		},
	}
	discord, session := newTestDiscord(t, cfg, provider)

	discord.handleInteractionCreate(
		nil,
		guildInteraction(
			testUser(testUserID),
			testChannelID,
			DiscordSlashCommandImage,
			stringOptionValue(chatCommandPromptOption, "a lighthouse at dusk"),
			stringOptionValue(imageCommandSizeOption, "1024x1792"),
			stringOptionValue(imageCommandQualityOption, "hd"),
		),
	)

	require.Len(t, session.followups, 1)
	assert.Contains(t, session.followups[0].Content, "a lighthouse at dusk")
	assert.Contains(
		t,
		session.followups[0].Content,
		"https://example.com/generated.png",
	)

	require.NotNil(t, provider.lastImageRequest)
	assert.Equal(t, "1024x1792", provider.lastImageRequest.Size)
	assert.Equal(t, "hd", provider.lastImageRequest.Quality)
}

func TestHandleInteractionAccessRefused(t *testing.T) {
	cfg := newTestConfig(t)
	provider := &mockCompletionProvider{}
	discord, session := newTestDiscord(t, cfg, provider)

	// unlisted channel
	discord.handleInteractionCreate(
		nil,
		guildInteraction(
			testUser(testUserID),
			testChannelID+1,
			DiscordSlashCommandChat,
			stringOptionValue(chatCommandPromptOption, "hi"),
		),
	)

	require.Len(t, session.responses, 1)
	assert.Equal(
		t,
		discordgo.InteractionResponseChannelMessageWithSource,
		session.responses[0].Type,
	)
	assert.Contains(t, session.responses[0].Data.Content, "not allowed")
	assert.Empty(t, session.followups)
	assert.Nil(t, provider.lastChatRequest)
}

func TestHandleInteractionIgnoresBots(t *testing.T) {
	cfg := newTestConfig(t)
	discord, session := newTestDiscord(t, cfg, &mockCompletionProvider{})

	botUser := testUser(testOwnerID)
	botUser.Bot = true
	discord.handleInteractionCreate(
		nil,
		guildInteraction(
			botUser,
			testChannelID,
			DiscordSlashCommandChat,
			stringOptionValue(chatCommandPromptOption, "hi"),
		),
	)
	assert.Empty(t, session.responses)
	assert.Empty(t, session.followups)
}

func TestHandleUsageCommand(t *testing.T) {
	cfg := newTestConfig(t)
	discord, session := newTestDiscord(t, cfg, nil)

	discord.handleInteractionCreate(
		nil,
		guildInteraction(testUser(testUserID), testChannelID, DiscordSlashCommandUsage),
	)

	require.Len(t, session.responses, 1)
	content := session.responses[0].Data.Content
	assert.Contains(t, content, "API usage for")
	assert.Contains(t, content, cfg.UsageLimitString())
	assert.Contains(t, content, "Lifetime")
	assert.Equal(
		t,
		discordgo.MessageFlagsEphemeral,
		session.responses[0].Data.Flags,
	)
}

func TestHandleUsageTotalsAdminOnly(t *testing.T) {
	cfg := newTestConfig(t)
	discord, session := newTestDiscord(t, cfg, nil)

	totalsOption := &discordgo.ApplicationCommandInteractionDataOption{
		Type:  discordgo.ApplicationCommandOptionBoolean,
		Name:  usageCommandTotalsOption,
		Value: true,
	}

	discord.handleInteractionCreate(
		nil,
		guildInteraction(
			testUser(testUserID),
			testChannelID,
			DiscordSlashCommandUsage,
			totalsOption,
		),
	)
	require.Len(t, session.responses, 1)
	assert.Contains(t, session.responses[0].Data.Content, "only admins")

	// the same request from an admin is served
	discord.handleInteractionCreate(
		nil,
		guildInteraction(
			testUser(testAdminID),
			testChannelID,
			DiscordSlashCommandUsage,
			totalsOption,
		),
	)
	require.Len(t, session.responses, 2)
	assert.Contains(t, session.responses[1].Data.Content, "Overall API usage")
}

func TestHandleLastChatCommand(t *testing.T) {
	cfg := newTestConfig(t)
	discord, session := newTestDiscord(t, cfg, nil)

	// non-admin refused
	discord.handleInteractionCreate(
		nil,
		guildInteraction(testUser(testUserID), testChannelID, DiscordSlashCommandLastChat),
	)
	require.Len(t, session.responses, 1)
	assert.Contains(t, session.responses[0].Data.Content, "only admins")

	// empty table
	discord.handleInteractionCreate(
		nil,
		guildInteraction(testUser(testAdminID), testChannelID, DiscordSlashCommandLastChat),
	)
	require.Len(t, session.responses, 2)
	assert.Contains(t, session.responses[1].Data.Content, "no chat exchanges")

	// with a persisted exchange
	exchange := NewChatExchange(testUserID, optString("gpt-4o"), "a saved prompt")
	exchange.Success = true
	exchange.Response = "a saved response"
	require.NoError(
		t,
		discord.a.store.SaveChatExchange(context.Background(), exchange),
	)

	discord.handleInteractionCreate(
		nil,
		guildInteraction(testUser(testAdminID), testChannelID, DiscordSlashCommandLastChat),
	)
	require.Len(t, session.responses, 3)
	assert.Contains(t, session.responses[2].Data.Content, "a saved prompt")
	assert.Contains(t, session.responses[2].Data.Content, exchange.ConversationID)
}

func TestHandleConfigCommand(t *testing.T) {
	cfg := newTestConfig(t)
	discord, session := newTestDiscord(t, cfg, nil)

	showOption := &discordgo.ApplicationCommandInteractionDataOption{
		Type: discordgo.ApplicationCommandOptionSubCommand,
		Name: "show",
	}

	// non-admin refused
	discord.handleInteractionCreate(
		nil,
		guildInteraction(
			testUser(testUserID),
			testChannelID,
			DiscordSlashCommandConfig,
			showOption,
		),
	)
	require.Len(t, session.responses, 1)
	assert.Contains(t, session.responses[0].Data.Content, "only admins")

	// show
	discord.handleInteractionCreate(
		nil,
		guildInteraction(
			testUser(testOwnerID),
			testChannelID,
			DiscordSlashCommandConfig,
			showOption,
		),
	)
	require.Len(t, session.responses, 2)
	assert.Contains(t, session.responses[1].Data.Content, "Usage Limit:")

	// set-limit
	discord.handleInteractionCreate(
		nil,
		guildInteraction(
			testUser(testOwnerID),
			testChannelID,
			DiscordSlashCommandConfig,
			&discordgo.ApplicationCommandInteractionDataOption{
				Type: discordgo.ApplicationCommandOptionSubCommand,
				Name: "set-limit",
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{
						Type:  discordgo.ApplicationCommandOptionNumber,
						Name:  "cost",
						Value: 2.5,
					},
					{
						Type:  discordgo.ApplicationCommandOptionInteger,
						Name:  "interval",
						Value: float64(24),
					},
				},
			},
		),
	)
	require.Len(t, session.responses, 3)
	assert.Contains(t, session.responses[2].Data.Content, "$2.5000/24 hrs")

	limit, interval := cfg.UsageLimit()
	assert.Equal(t, 2.5, limit)
	assert.Equal(t, "24h0m0s", interval.String())
}

func TestInteractionChannelType(t *testing.T) {
	guild := guildInteraction(testUser(testUserID), testChannelID, DiscordSlashCommandChat)
	assert.Equal(
		t, discordgo.ChannelTypeGuildText, interactionChannelType(guild),
	)

	dm := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionApplicationCommand,
			User: testUser(testUserID),
			Data: discordgo.ApplicationCommandInteractionData{
				Name: DiscordSlashCommandChat,
			},
		},
	}
	assert.Equal(t, discordgo.ChannelTypeDM, interactionChannelType(dm))
	assert.Equal(t, testUser(testUserID), interactionUser(dm))
}
