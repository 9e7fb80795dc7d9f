package aithena

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleChat serves /chat and /private. The only difference is whether
// the acknowledgement and response are ephemeral.
func (d *Discord) handleChat(
	ctx context.Context,
	session DiscordSessionHandler,
	i *discordgo.InteractionCreate,
	private bool,
) {
	log := d.commandLogger(ctx)
	user := interactionUser(i)
	opts := commandOptions(i)
	prompt := stringOption(opts, chatCommandPromptOption)

	if err := d.ackDeferred(session, i, private); err != nil {
		log.Error("error acknowledging interaction", tint.Err(err))
		return
	}

	exchange, err := d.a.openai.ChatCompletion(
		ctx,
		parseSnowflake(user.ID),
		"",
		prompt,
	)
	if err != nil {
		log.Error("error persisting chat exchange", tint.Err(err))
		d.followupChunked(session, i, d.config.ErrorMessage, private)
		return
	}
	d.followupChunked(session, i, exchange.Response, private)
}

// handleImage serves /image.
func (d *Discord) handleImage(
	ctx context.Context,
	session DiscordSessionHandler,
	i *discordgo.InteractionCreate,
) {
	log := d.commandLogger(ctx)
	user := interactionUser(i)
	opts := commandOptions(i)

	if err := d.ackDeferred(session, i, false); err != nil {
		log.Error("error acknowledging interaction", tint.Err(err))
		return
	}

	exchange, err := d.a.openai.GenerateImage(
		ctx,
		parseSnowflake(user.ID),
		stringOption(opts, chatCommandPromptOption),
		stringOption(opts, imageCommandModelOption),
		stringOption(opts, imageCommandSizeOption),
		stringOption(opts, imageCommandQualityOption),
		stringOption(opts, imageCommandStyleOption),
	)
	if err != nil {
		log.Error("error persisting image exchange", tint.Err(err))
		d.followupChunked(session, i, d.config.ErrorMessage, false)
		return
	}

	if !exchange.Success {
		msg := d.config.ErrorMessage
		if exchange.Exception != nil {
			msg = *exchange.Exception
		}
		d.followupChunked(session, i, msg, false)
		return
	}
	d.followupChunked(
		session,
		i,
		fmt.Sprintf("%s\n%s", exchange.Prompt, exchange.URL),
		false,
	)
}

// handleUsage serves /usage. Regular users see their own usage; admins
// may pass a user option or request overall totals.
func (d *Discord) handleUsage(
	ctx context.Context,
	session DiscordSessionHandler,
	i *discordgo.InteractionCreate,
) {
	log := d.commandLogger(ctx)
	user := interactionUser(i)
	userID := parseSnowflake(user.ID)
	opts := commandOptions(i)

	target := userID
	targetName := user.Username
	if opt, ok := opts[usageCommandUserOption]; ok {
		if !d.a.config.IsAdmin(userID) {
			d.respondEphemeral(session, i, "only admins can view other users' usage")
			return
		}
		targetUser := opt.UserValue(nil)
		target = parseSnowflake(targetUser.ID)
		targetName = targetUser.Username
		if targetName == "" {
			targetName = targetUser.ID
		}
	}
	totals := boolOption(opts, usageCommandTotalsOption)
	if totals && !d.a.config.IsAdmin(userID) {
		d.respondEphemeral(session, i, "only admins can view overall usage")
		return
	}

	var author *uint64
	header := fmt.Sprintf("API usage for %s", targetName)
	if totals {
		header = "Overall API usage"
	} else {
		author = &target
	}

	windowed, err := d.a.store.APIUsage(ctx, author, true)
	if err != nil {
		log.Error("error getting windowed usage", tint.Err(err))
		d.respondEphemeral(session, i, d.config.ErrorMessage)
		return
	}
	lifetime, err := d.a.store.APIUsage(ctx, author, false)
	if err != nil {
		log.Error("error getting lifetime usage", tint.Err(err))
		d.respondEphemeral(session, i, d.config.ErrorMessage)
		return
	}

	content := fmt.Sprintf(
		"%s:\nWindow (%s):\n```\n%s\n```\nLifetime:\n```\n%s\n```",
		header,
		d.a.config.UsageLimitString(),
		windowed,
		lifetime,
	)
	d.respondEphemeral(session, i, content)
}

// handleLastChat serves /last-chat (admin only).
func (d *Discord) handleLastChat(
	ctx context.Context,
	session DiscordSessionHandler,
	i *discordgo.InteractionCreate,
) {
	log := d.commandLogger(ctx)
	user := interactionUser(i)
	if !d.a.config.IsAdmin(parseSnowflake(user.ID)) {
		d.respondEphemeral(session, i, "only admins can use this command")
		return
	}

	exchange, err := d.a.store.LastChatExchange(ctx, optionAuthor(i))
	if err != nil {
		log.Error("error getting last chat exchange", tint.Err(err))
		d.respondEphemeral(session, i, d.config.ErrorMessage)
		return
	}
	if exchange == nil {
		d.respondEphemeral(session, i, "no chat exchanges recorded")
		return
	}
	d.respondEphemeral(
		session,
		i,
		fmt.Sprintf("```\n%s\n```", truncateForCodeBlock(exchange.String())),
	)
}

// handleLastImage serves /last-image (admin only).
func (d *Discord) handleLastImage(
	ctx context.Context,
	session DiscordSessionHandler,
	i *discordgo.InteractionCreate,
) {
	log := d.commandLogger(ctx)
	user := interactionUser(i)
	if !d.a.config.IsAdmin(parseSnowflake(user.ID)) {
		d.respondEphemeral(session, i, "only admins can use this command")
		return
	}

	exchange, err := d.a.store.LastImage(ctx, optionAuthor(i))
	if err != nil {
		log.Error("error getting last image exchange", tint.Err(err))
		d.respondEphemeral(session, i, d.config.ErrorMessage)
		return
	}
	if exchange == nil {
		d.respondEphemeral(session, i, "no image exchanges recorded")
		return
	}
	d.respondEphemeral(
		session,
		i,
		fmt.Sprintf("```\n%s\n```", truncateForCodeBlock(exchange.String())),
	)
}

// handleConfig serves /config subcommands (admin only).
func (d *Discord) handleConfig(
	ctx context.Context,
	session DiscordSessionHandler,
	i *discordgo.InteractionCreate,
) {
	log := d.commandLogger(ctx)
	user := interactionUser(i)
	if !d.a.config.IsAdmin(parseSnowflake(user.ID)) {
		d.respondEphemeral(session, i, "only admins can use this command")
		return
	}

	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]
	switch sub.Name {
	case "show":
		d.respondEphemeral(session, i, configSummary(d.a.config))
	case "set-limit":
		var cost float64
		var interval int
		for _, opt := range sub.Options {
			switch opt.Name {
			case "cost":
				cost = opt.FloatValue()
			case "interval":
				interval = int(opt.IntValue())
			}
		}
		if err := d.a.config.SetUsageLimit(cost, interval); err != nil {
			d.respondEphemeral(session, i, err.Error())
			return
		}
		log.Info(
			"usage limit updated",
			"cost", cost,
			"interval_hours", interval,
			"updated_by", user.ID,
		)
		d.respondEphemeral(
			session,
			i,
			fmt.Sprintf("usage limit set to %s", d.a.config.UsageLimitString()),
		)
	default:
		log.Warn("unknown config subcommand", "name", sub.Name)
	}
}

func (d *Discord) commandLogger(ctx context.Context) *slog.Logger {
	if log, ok := ContextLogger(ctx); ok && log != nil {
		return log
	}
	return d.logger
}

// configSummary renders the runtime-visible configuration, without
// secrets.
func configSummary(c *Config) string {
	format := "%-20s%v"
	lines := []string{
		fmt.Sprintf(format, "Owner:", c.Owner),
		fmt.Sprintf(format, "Admin Users:", c.AdminUsers),
		fmt.Sprintf(format, "Admin Guilds:", c.AdminGuilds),
		fmt.Sprintf(format, "Allow Channels:", c.AllowChannels),
		fmt.Sprintf(format, "Allow Users:", c.AllowUsers),
		fmt.Sprintf(format, "Unlimited Users:", c.UnlimitedUsers),
		fmt.Sprintf(format, "Usage Limit:", c.UsageLimitString()),
	}
	return fmt.Sprintf("```\n%s\n```", strings.Join(lines, "\n"))
}

// commandOptions flattens the interaction's top-level options by name.
func commandOptions(
	i *discordgo.InteractionCreate,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	opts := i.ApplicationCommandData().Options
	byName := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(opts),
	)
	for _, opt := range opts {
		byName[opt.Name] = opt
	}
	return byName
}

func stringOption(
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
) string {
	if opt, ok := opts[name]; ok {
		return opt.StringValue()
	}
	return ""
}

func boolOption(
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
) bool {
	if opt, ok := opts[name]; ok {
		return opt.BoolValue()
	}
	return false
}

// optionAuthor returns a numeric author filter from the interaction's
// user option, or nil when the option wasn't passed.
func optionAuthor(i *discordgo.InteractionCreate) *uint64 {
	opts := commandOptions(i)
	opt, ok := opts[usageCommandUserOption]
	if !ok {
		return nil
	}
	id := parseSnowflake(opt.UserValue(nil).ID)
	if id == 0 {
		return nil
	}
	return &id
}

// truncateForCodeBlock keeps content short enough to fit one message
// after the surrounding code fence is added.
func truncateForCodeBlock(s string) string {
	limit := discordMaxMessageLength - len("```\n\n```")
	if len(s) <= limit {
		return s
	}
	return s[:runeSafeCut(s, limit)]
}
