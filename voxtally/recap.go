package voxtally

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

type recapMessenger interface {
	Channel(channelID string) (*discordgo.Channel, error)
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
	) (*discordgo.Message, error)
}

// MonthlyRecap publishes the previous month's leaderboard to a
// configured channel on the first day of each month. It wakes up once
// per check interval (daily by default) and no-ops on every other day.
//
// A missing, unknown or non-text destination channel disables the recap
// for that cycle with a logged reason - it is never an error. Nothing in
// this loop is allowed to escape to the scheduler; any failure is logged
// and the daily check continues.
type MonthlyRecap struct {
	leaderboard *Leaderboard
	session     recapMessenger
	config      *RecapConfig
	logger      *slog.Logger

	// now is a seam for tests; defaults to time.Now
	now func() time.Time
}

func NewMonthlyRecap(
	leaderboard *Leaderboard,
	session recapMessenger,
	config *RecapConfig,
	log *slog.Logger,
) *MonthlyRecap {
	if log == nil {
		log = slog.Default()
	}
	return &MonthlyRecap{
		leaderboard: leaderboard,
		session:     session,
		config:      config,
		logger:      log.With(loggerNameKey, "monthly_recap"),
		now:         time.Now,
	}
}

// Run blocks until ctx is cancelled, checking the date once per
// configured interval after the ready signal fires.
func (m *MonthlyRecap) Run(ctx context.Context, ready <-chan struct{}) {
	select {
	case <-ctx.Done():
		return
	case <-ready:
		//
	}

	interval := m.config.CheckInterval
	if interval <= 0 {
		interval = DefaultRecapCheckInterval
	}
	m.logger.InfoContext(ctx, "monthly recap task started", "check_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "monthly recap task stopped")
			return
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

// runOnce performs one daily check. On the first day of a month it
// fetches the previous month's ranking and, if non-empty, publishes it.
func (m *MonthlyRecap) runOnce(ctx context.Context) {
	now := m.now()
	if now.Day() != 1 {
		m.logger.DebugContext(
			ctx,
			"not the first day of the month, skipping recap",
			"day", now.Day(),
		)
		return
	}

	month := previousMonthKey(now)
	m.logger.InfoContext(ctx, "generating monthly recap", columnMonth, month)

	if m.config.ChannelID == "" {
		m.logger.WarnContext(
			ctx,
			"no recap channel configured, cannot send monthly recap",
		)
		return
	}

	channel, err := m.session.Channel(m.config.ChannelID)
	if err != nil || channel == nil {
		m.logger.ErrorContext(
			ctx,
			"could not find recap channel",
			"channel_id", m.config.ChannelID,
			tint.Err(err),
		)
		return
	}
	if channel.Type != discordgo.ChannelTypeGuildText {
		m.logger.ErrorContext(
			ctx,
			"recap channel is not a text channel",
			"channel_id", m.config.ChannelID,
			"channel_type", int(channel.Type),
		)
		return
	}

	entries, err := m.leaderboard.TopMonthly(ctx, month)
	if err != nil {
		m.logger.ErrorContext(
			ctx,
			"error fetching monthly voice times for recap",
			columnMonth, month,
			tint.Err(err),
		)
		return
	}
	if len(entries) == 0 {
		m.logger.InfoContext(
			ctx,
			"no voice activity recorded, skipping recap",
			columnMonth, month,
		)
		return
	}

	readable, err := humanMonth(month)
	if err != nil {
		readable = month
	}
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("🏆 Monthly Voice Recap: %s", readable),
		Color:       colorLeaderboard,
		Description: m.leaderboard.renderEntries(ctx, channel.GuildID, entries),
	}

	content := "Here's the voice activity leaderboard for last month!"
	if m.config.Mention != "" {
		content = fmt.Sprintf("%s %s", m.config.Mention, content)
	}

	if _, err = m.session.ChannelMessageSendComplex(
		m.config.ChannelID,
		&discordgo.MessageSend{Content: content, Embeds: []*discordgo.MessageEmbed{embed}},
	); err != nil {
		m.logger.ErrorContext(
			ctx,
			"error sending monthly recap",
			"channel_id", m.config.ChannelID,
			columnMonth, month,
			tint.Err(err),
		)
		return
	}

	m.logger.InfoContext(
		ctx,
		"sent monthly voice recap",
		"channel_id", m.config.ChannelID,
		columnMonth, month,
	)
}
