package voxtally

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
)

// VoiceChannelMember is one member currently connected to a voice
// channel, with the flags needed to judge audible presence.
type VoiceChannelMember struct {
	UserID    string
	GuildID   string
	ChannelID string
	Bot       bool
	SelfMute  bool
	SelfDeaf  bool
}

// GuildVoicePresence is a snapshot of one guild's voice channel
// occupancy at a single instant. It has no identity beyond the tick
// that produced it.
type GuildVoicePresence struct {
	GuildID      string
	AFKChannelID string
	Members      []VoiceChannelMember
}

// GuildRoster enumerates current voice channel occupancy across all
// connected guilds. Implemented over discordgo session state; faked in
// tests.
type GuildRoster interface {
	GuildVoicePresences() []GuildVoicePresence
}

type voiceActivityRecorder interface {
	IncrementVoiceActivity(
		ctx context.Context,
		userID string,
		month string,
	) (int64, error)
}

const (
	samplerStateNotStarted int32 = iota
	samplerStateRunning
	samplerStateStopped
)

// tickSummary aggregates the outcome of one sampler tick. Individual
// member failures are isolated and only show up here as a count.
type tickSummary struct {
	Credited int
	Skipped  int
	Failed   int
}

// VoiceSampler periodically scans every voice channel of every connected
// guild and credits one minute to each audibly-present member: connected
// to a non-AFK channel, not a bot, not self-muted, not self-deafened.
//
// A member present for 59 seconds around a tick boundary may be credited
// 0 or 1 minutes depending on timing - minute resolution is the accepted
// granularity. Each tick credits a flat +1 regardless of how late the
// tick fired.
type VoiceSampler struct {
	store    voiceActivityRecorder
	roster   GuildRoster
	interval time.Duration
	logger   *slog.Logger

	state          atomic.Int32
	ticksCompleted atomic.Int64
}

func NewVoiceSampler(
	store voiceActivityRecorder,
	roster GuildRoster,
	interval time.Duration,
	log *slog.Logger,
) *VoiceSampler {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultSamplerInterval
	}
	return &VoiceSampler{
		store:    store,
		roster:   roster,
		interval: interval,
		logger:   log.With(loggerNameKey, "voice_sampler"),
	}
}

// Run blocks until ctx is cancelled. The first tick waits for the ready
// signal - the gateway session must be established before guild state
// means anything. Once cancelled the sampler does not resume; there is
// no pause state. An in-flight tick is allowed to finish.
func (v *VoiceSampler) Run(ctx context.Context, ready <-chan struct{}) {
	select {
	case <-ctx.Done():
		v.state.Store(samplerStateStopped)
		return
	case <-ready:
		//
	}

	v.state.Store(samplerStateRunning)
	v.logger.InfoContext(ctx, "voice time tracking started", "interval", v.interval)

	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			v.state.Store(samplerStateStopped)
			v.logger.InfoContext(ctx, "voice time tracking stopped")
			return
		case now := <-ticker.C:
			summary := v.tick(ctx, now)
			v.ticksCompleted.Add(1)
			v.logger.InfoContext(
				ctx,
				"voice sampling tick complete",
				"credited", summary.Credited,
				"skipped", summary.Skipped,
				"failed", summary.Failed,
			)
		}
	}
}

// Running reports whether the sampler is in its running state.
func (v *VoiceSampler) Running() bool {
	return v.state.Load() == samplerStateRunning
}

// TicksCompleted returns the number of completed sampling ticks.
func (v *VoiceSampler) TicksCompleted() int64 {
	return v.ticksCompleted.Load()
}

// tick scans every guild's voice channels once, crediting one minute to
// each audibly-present member for the month containing now. One failing
// member never aborts the rest of the batch.
func (v *VoiceSampler) tick(ctx context.Context, now time.Time) tickSummary {
	var summary tickSummary
	month := monthKey(now)

	for _, presence := range v.roster.GuildVoicePresences() {
		for _, member := range presence.Members {
			if presence.AFKChannelID != "" &&
				member.ChannelID == presence.AFKChannelID {
				summary.Skipped++
				continue
			}
			if member.Bot || member.SelfMute || member.SelfDeaf {
				summary.Skipped++
				continue
			}

			total, err := v.store.IncrementVoiceActivity(
				ctx,
				member.UserID,
				month,
			)
			if err != nil {
				summary.Failed++
				v.logger.ErrorContext(
					ctx,
					"error crediting voice minute",
					columnUserID, member.UserID,
					"guild_id", member.GuildID,
					columnMonth, month,
					tint.Err(err),
				)
				continue
			}
			summary.Credited++
			v.logger.DebugContext(
				ctx,
				"credited voice minute",
				columnUserID, member.UserID,
				"total_minutes", total,
			)
		}
	}
	return summary
}
