package aithena

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	DiscordSlashCommandChat      = "chat"
	DiscordSlashCommandPrivate   = "private"
	DiscordSlashCommandImage     = "image"
	DiscordSlashCommandUsage     = "usage"
	DiscordSlashCommandLastChat  = "last-chat"
	DiscordSlashCommandLastImage = "last-image"
	DiscordSlashCommandConfig    = "config"

	chatCommandPromptOption   = "prompt"
	imageCommandSizeOption    = "size"
	imageCommandModelOption   = "model"
	imageCommandQualityOption = "quality"
	imageCommandStyleOption   = "style"
	usageCommandUserOption    = "user"
	usageCommandTotalsOption  = "totals"

	// discordMaxMessageLength is Discord's message content limit
	discordMaxMessageLength = 2000
)

// DiscordSessionHandler is the subset of *discordgo.Session the bot uses,
// so tests can substitute a mock session.
type DiscordSessionHandler interface {
	Open() error
	Close() error
	AddHandler(handler any) func()
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error
	FollowupMessageCreate(
		interaction *discordgo.Interaction,
		wait bool,
		data *discordgo.WebhookParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	UpdateCustomStatus(state string) error
}

type commandHandlerFunc func(
	ctx context.Context,
	s DiscordSessionHandler,
	i *discordgo.InteractionCreate,
)

// Discord manages the gateway session, registers the slash commands and
// dispatches interactions to their handlers. The handler table is built
// once at startup; unknown commands are logged and ignored.
type Discord struct {
	session DiscordSessionHandler
	config  *DiscordConfig
	logger  *slog.Logger
	a       *Aithena

	connected         atomic.Bool
	removeHandlerFunc func()
	commandHandlers   map[string]commandHandlerFunc

	// ctx is the bot's run context, used as the parent for every
	// interaction handler
	ctx context.Context
}

func newDiscord(a *Aithena) *Discord {
	d := &Discord{
		config: a.config.Discord,
		a:      a,
		ctx:    context.Background(),
	}
	d.logger = slog.New(newLogHandler(d.config.LogLevel)).With(
		loggerNameKey, "discord",
	)
	d.commandHandlers = map[string]commandHandlerFunc{
		DiscordSlashCommandChat: func(
			ctx context.Context, s DiscordSessionHandler, i *discordgo.InteractionCreate,
		) {
			d.handleChat(ctx, s, i, false)
		},
		DiscordSlashCommandPrivate: func(
			ctx context.Context, s DiscordSessionHandler, i *discordgo.InteractionCreate,
		) {
			d.handleChat(ctx, s, i, true)
		},
		DiscordSlashCommandImage:     d.handleImage,
		DiscordSlashCommandUsage:     d.handleUsage,
		DiscordSlashCommandLastChat:  d.handleLastChat,
		DiscordSlashCommandLastImage: d.handleLastImage,
		DiscordSlashCommandConfig:    d.handleConfig,
	}
	return d
}

// newSession creates the underlying discordgo session with the bot's
// logging and gateway settings.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	session.SyncEvents = false
	session.StateEnabled = false
	session.Identify.Intents = discordgo.IntentsAllWithoutPrivileged
	discordgo.Logger = discordgoLoggerFunc(
		d.ctx,
		newLogHandler(d.config.DiscordGoLogLevel),
	)
	return session, nil
}

// connect opens the gateway session, registers commands and installs the
// interaction handler. ctx is retained as the parent context for all
// command handlers.
func (d *Discord) connect(ctx context.Context) error {
	d.ctx = ctx
	if d.session == nil {
		session, err := d.newSession()
		if err != nil {
			return err
		}
		d.session = session
	}

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}
	d.connected.Store(true)

	if err := d.registerCommands(); err != nil {
		return err
	}

	d.removeHandlerFunc = d.session.AddHandler(d.handleInteractionCreate)

	if d.config.CustomStatus != "" {
		if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
			d.logger.Warn("error setting custom status", tint.Err(err))
		}
	}
	d.logger.Info("discord session connected")
	return nil
}

func (d *Discord) close() error {
	if d.removeHandlerFunc != nil {
		d.removeHandlerFunc()
		d.removeHandlerFunc = nil
	}
	d.connected.Store(false)
	if d.session == nil {
		return nil
	}
	return d.session.Close()
}

// registerCommands bulk-overwrites the application's slash commands. If a
// guild ID is configured, commands are registered for that guild only.
func (d *Discord) registerCommands() error {
	commands := slashCommands()
	registered, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
	)
	if err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}
	for _, cmd := range registered {
		d.logger.Info("registered command", "name", cmd.Name, "id", cmd.ID)
	}
	return nil
}

// handleInteractionCreate dispatches incoming slash command interactions
// to the handler table. Each interaction gets a request-scoped logger.
func (d *Discord) handleInteractionCreate(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	name := i.ApplicationCommandData().Name
	handler, ok := d.commandHandlers[name]
	if !ok {
		d.logger.Warn("no handler for command", "name", name)
		return
	}

	user := interactionUser(i)
	log := d.logger.With(
		"command", name,
		"interaction_id", i.ID,
		"user_id", user.ID,
		"username", user.Username,
	)
	ctx := WithLogger(d.ctx, log)

	allowed, reason := d.a.policy.AllowStandardAccess(
		parseSnowflake(user.ID),
		user.Bot,
		parseSnowflake(i.ChannelID),
		interactionChannelType(i),
	)
	if !allowed {
		log.Warn("standard access refused", "reason", reason)
		if reason != "" {
			d.respondEphemeral(d.session, i, reason)
		}
		return
	}

	handler(ctx, d.session, i)
}

// interactionUser returns the invoking user, whether the interaction came
// from a guild (Member) or a DM (User).
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	if i.User != nil {
		return i.User
	}
	return &discordgo.User{}
}

// interactionChannelType infers the channel type from the interaction:
// interactions without a guild ID arrive via DM.
func interactionChannelType(i *discordgo.InteractionCreate) discordgo.ChannelType {
	if i.GuildID == "" {
		return discordgo.ChannelTypeDM
	}
	return discordgo.ChannelTypeGuildText
}

// ackDeferred acknowledges the interaction with a deferred response, so
// the provider call can take longer than Discord's 3-second window.
func (d *Discord) ackDeferred(
	session DiscordSessionHandler,
	i *discordgo.InteractionCreate,
	ephemeral bool,
) error {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	return session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: flags},
		},
	)
}

func (d *Discord) respondEphemeral(
	session DiscordSessionHandler,
	i *discordgo.InteractionCreate,
	content string,
) {
	err := session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		d.logger.Error("error sending ephemeral response", tint.Err(err))
	}
}

// followupChunked sends content as one or more followup messages, split
// to Discord's message length limit.
func (d *Discord) followupChunked(
	session DiscordSessionHandler,
	i *discordgo.InteractionCreate,
	content string,
	ephemeral bool,
) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	for _, chunk := range chunkMessage(content, discordMaxMessageLength) {
		_, err := session.FollowupMessageCreate(
			i.Interaction,
			true,
			&discordgo.WebhookParams{Content: chunk, Flags: flags},
		)
		if err != nil {
			d.logger.Error("error sending followup", tint.Err(err))
			return
		}
	}
}

// slashCommands returns the full set of application commands the bot
// registers at startup.
func slashCommands() []*discordgo.ApplicationCommand {
	imageSizes := []*discordgo.ApplicationCommandOptionChoice{
		{Name: "1024x1024", Value: "1024x1024"},
		{Name: "1024x1792", Value: "1024x1792"},
		{Name: "1792x1024", Value: "1792x1024"},
		{Name: "512x512", Value: "512x512"},
		{Name: "256x256", Value: "256x256"},
	}
	promptOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        chatCommandPromptOption,
		Description: "What would you like to say or ask?",
		Required:    true,
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        DiscordSlashCommandChat,
			Description: "Ask the AI a question",
			Options:     []*discordgo.ApplicationCommandOption{promptOption},
		},
		{
			Name:        DiscordSlashCommandPrivate,
			Description: "Chat with me, but only you can see your message or my response",
			Options:     []*discordgo.ApplicationCommandOption{promptOption},
		},
		{
			Name:        DiscordSlashCommandImage,
			Description: "Generate an image from a prompt",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        chatCommandPromptOption,
					Description: "What should the image show?",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        imageCommandSizeOption,
					Description: "Image size",
					Choices:     imageSizes,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        imageCommandModelOption,
					Description: "Image model",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "dall-e-3", Value: "dall-e-3"},
						{Name: "dall-e-2", Value: "dall-e-2"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        imageCommandQualityOption,
					Description: "Image quality",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "standard", Value: "standard"},
						{Name: "hd", Value: "hd"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        imageCommandStyleOption,
					Description: "Image style",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "vivid", Value: "vivid"},
						{Name: "natural", Value: "natural"},
					},
				},
			},
		},
		{
			Name:        DiscordSlashCommandUsage,
			Description: "Show API usage",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        usageCommandUserOption,
					Description: "User to show usage for (admin only)",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        usageCommandTotalsOption,
					Description: "Show totals across all users (admin only)",
				},
			},
		},
		{
			Name:        DiscordSlashCommandLastChat,
			Description: "Show the most recent chat exchange (admin only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        usageCommandUserOption,
					Description: "Filter to one user",
				},
			},
		},
		{
			Name:        DiscordSlashCommandLastImage,
			Description: "Show the most recent image exchange (admin only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        usageCommandUserOption,
					Description: "Filter to one user",
				},
			},
		},
		{
			Name:        DiscordSlashCommandConfig,
			Description: "Show or update bot configuration (admin only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "show",
					Description: "Show the current configuration",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set-limit",
					Description: "Set the usage cost cap and interval",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionNumber,
							Name:        "cost",
							Description: "Dollar cap per interval",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "interval",
							Description: "Interval length, in hours",
							Required:    true,
						},
					},
				},
			},
		},
	}
}
