package voxtally

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleInteraction routes incoming interactions. Only the /voicetime
// application command exists; anything else is ignored.
func (v *VoxTally) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != DiscordSlashCommandVoiceTime {
		v.logger.WarnContext(
			ctx,
			"ignoring unknown command",
			"command", data.Name,
		)
		return
	}
	v.handleVoiceTimeCommand(ctx, i)
}

// handleVoiceTimeCommand serves `/voicetime [month]`: the top-10 voice
// activity leaderboard, all-time or scoped to one YYYY-MM month.
//
// A malformed month is rejected before the store is touched. Store
// failures degrade to an error embed - the handler never panics the
// gateway dispatcher.
func (v *VoxTally) handleVoiceTimeCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger := v.logger.With(loggerNameKey, "voicetime_command")

	var month string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt != nil && opt.Name == voiceTimeMonthOption {
			month = opt.StringValue()
		}
	}

	if month != "" && !ValidMonthKey(month) {
		logger.InfoContext(
			ctx,
			"rejected malformed month key",
			columnMonth, month,
		)
		v.respondEphemeralEmbed(
			ctx, i, &discordgo.MessageEmbed{
				Title:       "Invalid Format",
				Description: "Please use the format YYYY-MM for the month (e.g., 2024-04).",
				Color:       colorError,
			},
		)
		return
	}

	var entries []LeaderboardEntry
	var err error
	if month == "" {
		entries, err = v.leaderboard.TopTotal(ctx)
	} else {
		entries, err = v.leaderboard.TopMonthly(ctx, month)
	}
	if err != nil {
		logger.ErrorContext(
			ctx,
			"error fetching voice time leaderboard",
			columnMonth, month,
			tint.Err(err),
		)
		v.respondEphemeralEmbed(
			ctx, i,
			errorEmbed("Could not retrieve voice time leaderboard."),
		)
		return
	}

	if len(entries) == 0 {
		v.respondEmbed(ctx, i, noDataEmbed(month))
		return
	}

	embed := v.leaderboard.Embed(ctx, i.GuildID, month, entries)
	if user := getDiscordUser(i); user != nil {
		footer := fmt.Sprintf("Requested by %s", user.Username)
		// The all-time view notes how far back the data goes, so old
		// regulars aren't shortchanged silently.
		if month == "" && v.config.RecordingStartedOn != "" {
			started, dateErr := humanDate(v.config.RecordingStartedOn)
			if dateErr != nil {
				logger.WarnContext(
					ctx,
					"invalid recording start date",
					"recording_started_on", v.config.RecordingStartedOn,
					tint.Err(dateErr),
				)
			} else {
				footer = fmt.Sprintf(
					"%s | Data recording started %s",
					footer,
					started,
				)
			}
		}
		embed.Footer = &discordgo.MessageEmbedFooter{Text: footer}
	}
	v.respondEmbed(ctx, i, embed)
}

func (v *VoxTally) respondEmbed(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	embed *discordgo.MessageEmbed,
) {
	v.respond(
		ctx, i, &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	)
}

func (v *VoxTally) respondEphemeralEmbed(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	embed *discordgo.MessageEmbed,
) {
	v.respond(
		ctx, i, &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	)
}

func (v *VoxTally) respond(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	data *discordgo.InteractionResponseData,
) {
	err := v.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: data,
		},
	)
	if err != nil {
		v.logger.ErrorContext(
			ctx,
			"error responding to interaction",
			slog.Group(
				"interaction",
				"id", i.ID,
				"guild_id", i.GuildID,
			),
			tint.Err(err),
		)
	}
}
