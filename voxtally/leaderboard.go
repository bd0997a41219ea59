package voxtally

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const (
	colorLeaderboard = 0xBEBEFE
	colorError       = 0xE02B2B
)

// monthKeyPattern is the only accepted month format ("2024-04").
// Anything else is rejected before the store is ever touched.
var monthKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// ValidMonthKey reports whether s is a well-formed YYYY-MM month key.
func ValidMonthKey(s string) bool {
	return monthKeyPattern.MatchString(s)
}

// LeaderboardEntry is one ranked row of a leaderboard.
type LeaderboardEntry struct {
	UserID  string `json:"user_id"`
	Minutes int64  `json:"minutes"`
}

type leaderboardSource interface {
	TotalVoiceTimes(ctx context.Context) ([]VoiceActivityTotal, error)
	MonthlyVoiceTimes(ctx context.Context, month string) (
		[]VoiceActivityMonthly,
		error,
	)
}

// NameResolver turns a user ID into a display label. Implementations
// must degrade to a fallback label rather than fail - one unresolvable
// user never aborts a listing.
type NameResolver interface {
	DisplayName(ctx context.Context, guildID string, userID string) string
}

type memberLookup interface {
	GuildMember(guildID string, userID string) (*discordgo.Member, error)
	User(userID string) (*discordgo.User, error)
}

// discordNameResolver resolves display labels via local guild membership
// first, then a rate-limited global user fetch, then a literal
// "Unknown User" label keyed by the raw ID.
type discordNameResolver struct {
	session memberLookup
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newDiscordNameResolver(
	session memberLookup,
	lookupsPerSecond float64,
	log *slog.Logger,
) *discordNameResolver {
	if log == nil {
		log = slog.Default()
	}
	if lookupsPerSecond <= 0 {
		lookupsPerSecond = DefaultDiscordUserLookupsPerSecond
	}
	return &discordNameResolver{
		session: session,
		limiter: rate.NewLimiter(rate.Limit(lookupsPerSecond), 1),
		logger:  log.With(loggerNameKey, "name_resolver"),
	}
}

func unknownUserLabel(userID string) string {
	return fmt.Sprintf("Unknown User (ID: %s)", userID)
}

func (r *discordNameResolver) DisplayName(
	ctx context.Context,
	guildID string,
	userID string,
) string {
	if guildID != "" {
		member, err := r.session.GuildMember(guildID, userID)
		if err == nil && member != nil {
			if member.Nick != "" {
				return member.Nick
			}
			if member.User != nil && member.User.Username != "" {
				return member.User.Username
			}
		}
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return unknownUserLabel(userID)
	}
	user, err := r.session.User(userID)
	if err != nil || user == nil || user.Username == "" {
		if err != nil {
			r.logger.WarnContext(
				ctx,
				"could not fetch user for leaderboard",
				columnUserID, userID,
				tint.Err(err),
			)
		}
		return unknownUserLabel(userID)
	}
	return user.Username
}

// Leaderboard assembles ranked top-N views from the activity store.
// Pure read-and-present: it never mutates counters.
type Leaderboard struct {
	store    leaderboardSource
	resolver NameResolver
	size     int
	logger   *slog.Logger
}

func NewLeaderboard(
	store leaderboardSource,
	resolver NameResolver,
	log *slog.Logger,
) *Leaderboard {
	if log == nil {
		log = slog.Default()
	}
	return &Leaderboard{
		store:    store,
		resolver: resolver,
		size:     DefaultLeaderboardSize,
		logger:   log.With(loggerNameKey, "leaderboard"),
	}
}

// TopTotal returns the top entries of the all-time leaderboard.
func (l *Leaderboard) TopTotal(ctx context.Context) ([]LeaderboardEntry, error) {
	totals, err := l.store.TotalVoiceTimes(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, l.size)
	for _, row := range totals {
		if len(entries) == l.size {
			break
		}
		entries = append(
			entries,
			LeaderboardEntry{UserID: row.UserID, Minutes: row.Minutes},
		)
	}
	return entries, nil
}

// TopMonthly returns the top entries for one month key. The key must
// already be validated; an unknown month yields an empty slice.
func (l *Leaderboard) TopMonthly(ctx context.Context, month string) (
	[]LeaderboardEntry,
	error,
) {
	rows, err := l.store.MonthlyVoiceTimes(ctx, month)
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, l.size)
	for _, row := range rows {
		if len(entries) == l.size {
			break
		}
		entries = append(
			entries,
			LeaderboardEntry{UserID: row.UserID, Minutes: row.Minutes},
		)
	}
	return entries, nil
}

// noDataMessage differentiates "nothing for this month" from "nothing at
// all" - the two cases must be distinguishable.
func noDataMessage(month string) string {
	if month != "" {
		return fmt.Sprintf("No voice activity recorded yet for %s.", month)
	}
	return "No voice activity recorded yet overall."
}

// renderEntries resolves each entry's display name and renders the
// numbered leaderboard body.
func (l *Leaderboard) renderEntries(
	ctx context.Context,
	guildID string,
	entries []LeaderboardEntry,
) string {
	var sb strings.Builder
	for i, entry := range entries {
		name := l.resolver.DisplayName(ctx, guildID, entry.UserID)
		fmt.Fprintf(
			&sb,
			"%d. %s: %s\n",
			i+1,
			name,
			pluralMinutes(entry.Minutes),
		)
	}
	return sb.String()
}

// Embed builds the leaderboard embed for the given entries. The title
// differs between the total view and a monthly view.
func (l *Leaderboard) Embed(
	ctx context.Context,
	guildID string,
	month string,
	entries []LeaderboardEntry,
) *discordgo.MessageEmbed {
	title := "Total Voice Channel Activity Leaderboard"
	if month != "" {
		title = fmt.Sprintf(
			"Voice Channel Activity Leaderboard for %s",
			month,
		)
	}
	return &discordgo.MessageEmbed{
		Title:       title,
		Color:       colorLeaderboard,
		Description: l.renderEntries(ctx, guildID, entries),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

func errorEmbed(description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Error!",
		Description: description,
		Color:       colorError,
	}
}

func noDataEmbed(month string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Description: noDataMessage(month),
		Color:       colorLeaderboard,
	}
}
