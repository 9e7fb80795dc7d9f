package aithena

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// AccessPolicy is the single gate deciding whether a user may make
// another metered request, and whether a command is allowed to run at all
// in the channel it came from. It only reads Config and the UsageLedger;
// calling it never mutates state.
type AccessPolicy struct {
	config *Config
	ledger *UsageLedger
	logger *slog.Logger
}

func NewAccessPolicy(
	config *Config,
	ledger *UsageLedger,
	logger *slog.Logger,
) *AccessPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessPolicy{
		config: config,
		ledger: ledger,
		logger: logger.With(loggerNameKey, "access_policy"),
	}
}

// CanProceed reports whether the user is allowed to make a new metered
// request. The owner, configured admins and unlimited users always may;
// everyone else is allowed while their windowed cost is under the cap.
func (p *AccessPolicy) CanProceed(userID uint64) bool {
	switch {
	case p.config.IsOwner(userID):
		p.logger.Debug("owner request, bypassing cap", "user_id", userID)
		return true
	case p.config.IsAdmin(userID):
		p.logger.Debug("admin request, bypassing cap", "user_id", userID)
		return true
	case p.config.IsUnlimited(userID):
		p.logger.Debug("unlimited user, bypassing cap", "user_id", userID)
		return true
	}

	limit, interval := p.config.UsageLimit()
	windowed := p.ledger.WindowedCost(userID)
	if windowed < limit {
		p.logger.Info(
			"request allowed",
			"user_id", userID,
			"windowed_cost", windowed,
			"cap", limit,
			"interval", interval,
		)
		return true
	}
	p.logger.Warn(
		"request denied, usage cap exceeded",
		"user_id", userID,
		"windowed_cost", windowed,
		"cap", limit,
		"interval", interval,
	)
	return false
}

// AllowStandardAccess reports whether a slash command interaction should
// be handled at all, based on where it came from. Bots are never allowed,
// the owner always is. Guild commands must come from an allow-listed
// channel, DMs from an allow-listed user. The returned reason is suitable
// to show the invoking user when access is refused.
func (p *AccessPolicy) AllowStandardAccess(
	userID uint64,
	isBot bool,
	channelID uint64,
	channelType discordgo.ChannelType,
) (bool, string) {
	if isBot {
		return false, ""
	}
	if p.config.IsOwner(userID) {
		return true, ""
	}
	switch channelType {
	case discordgo.ChannelTypeGuildText:
		if !p.config.AllowsChannel(channelID) {
			return false, "I am not allowed to respond in this channel"
		}
		return true, ""
	case discordgo.ChannelTypeDM:
		if !p.config.AllowsDM(userID) {
			return false, "I am not allowed to respond to DMs from you"
		}
		return true, ""
	default:
		return false, "I am not allowed to respond here"
	}
}
