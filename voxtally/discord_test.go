package voxtally

import (
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDiscordRequiresToken(t *testing.T) {
	_, err := newDiscord(&DiscordConfig{})
	require.Error(t, err)

	d, err := newDiscord(&DiscordConfig{Token: "token"})
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestAppCommandVoiceTime(t *testing.T) {
	d := &Discord{}
	cmd := d.appCommandVoiceTime()

	assert.Equal(t, DiscordSlashCommandVoiceTime, cmd.Name)
	require.Len(t, cmd.Options, 1)

	opt := cmd.Options[0]
	assert.Equal(t, voiceTimeMonthOption, opt.Name)
	assert.Equal(t, discordgo.ApplicationCommandOptionString, opt.Type)
	assert.False(t, opt.Required)
	assert.Equal(t, 7, opt.MaxLength)
}

func TestRegisterCommands(t *testing.T) {
	session := &stubSessionHandler{}
	d := &Discord{
		session: session,
		config:  &DiscordConfig{Token: "token", ApplicationID: "app-1"},
		logger:  slog.Default(),
	}

	created, err := d.registerCommands()
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, DiscordSlashCommandVoiceTime, created[0].Name)
	require.Len(t, session.commands, 1)
}

func TestHandlerReadyClosesSignalOnce(t *testing.T) {
	vt := &VoxTally{signalReady: make(chan struct{})}
	d := &Discord{logger: slog.Default(), vt: vt}

	session := &discordgo.Session{
		State: discordgo.NewState(),
	}
	session.State.User = &discordgo.User{ID: "bot", Username: "voxtally"}

	handler := d.handlerReady()
	handler(session, &discordgo.Ready{})

	select {
	case <-vt.signalReady:
		//
	default:
		t.Fatal("ready signal was not closed")
	}

	// a gateway reconnect must not re-close the channel
	handler(session, &discordgo.Ready{})
}

func TestHandlerConnectSendsStartupMessage(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Recap.ChannelID = "recap-channel"

	session := &stubSessionHandler{}
	vt := &VoxTally{config: cfg}
	d := &Discord{
		session: session,
		config:  cfg.Discord,
		logger:  slog.Default(),
		vt:      vt,
	}

	d.handlerConnect()(nil, &discordgo.Connect{})

	assert.True(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricConnects.Load())
	require.Len(t, session.channelMessages, 1)
	assert.Equal(t, DefaultDiscordStartupMessage, session.channelMessages[0])
}

func TestHandlerConnectNoRecapChannel(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Recap.ChannelID = ""

	session := &stubSessionHandler{}
	vt := &VoxTally{config: cfg}
	d := &Discord{
		session: session,
		config:  cfg.Discord,
		logger:  slog.Default(),
		vt:      vt,
	}

	d.handlerConnect()(nil, &discordgo.Connect{})
	assert.Empty(t, session.channelMessages)
}

func TestHandlerDisconnect(t *testing.T) {
	d := &Discord{logger: slog.Default()}
	d.connected.Store(true)

	d.handlerDisconnect()(nil, &discordgo.Disconnect{})

	assert.False(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricDisconnects.Load())
}

func TestDiscordSessionSetLogLevel(t *testing.T) {
	inner := &discordgo.Session{}
	session := DiscordSession{session: inner, logger: slog.Default()}

	require.NoError(t, session.SetLogLevel(slog.LevelDebug))
	assert.Equal(t, discordgo.LogDebug, inner.LogLevel)

	require.NoError(t, session.SetLogLevel(slog.LevelError))
	assert.Equal(t, discordgo.LogError, inner.LogLevel)

	require.Error(t, session.SetLogLevel(slog.Level(42)))
}

func TestGuildVoicePresencesFromState(t *testing.T) {
	state := discordgo.NewState()
	require.NoError(
		t,
		state.GuildAdd(
			&discordgo.Guild{
				ID:           "guild-1",
				AfkChannelID: "afk-channel",
				Members: []*discordgo.Member{
					{
						GuildID: "guild-1",
						User:    &discordgo.User{ID: "user-bot", Bot: true},
					},
					{
						GuildID: "guild-1",
						User:    &discordgo.User{ID: "user-1"},
					},
				},
				VoiceStates: []*discordgo.VoiceState{
					{UserID: "user-1", ChannelID: "general"},
					{UserID: "user-bot", ChannelID: "general"},
					{UserID: "user-stale", ChannelID: ""},
					{UserID: "user-muted", ChannelID: "general", SelfMute: true},
				},
			},
		),
	)

	session := DiscordSession{
		session: &discordgo.Session{State: state, StateEnabled: true},
		logger:  slog.Default(),
	}

	presences := session.GuildVoicePresences()
	require.Len(t, presences, 1)

	presence := presences[0]
	assert.Equal(t, "guild-1", presence.GuildID)
	assert.Equal(t, "afk-channel", presence.AFKChannelID)

	// user-stale has no channel and is dropped from the snapshot
	require.Len(t, presence.Members, 3)

	byUser := make(map[string]VoiceChannelMember, len(presence.Members))
	for _, m := range presence.Members {
		byUser[m.UserID] = m
	}

	assert.False(t, byUser["user-1"].Bot)
	assert.True(t, byUser["user-bot"].Bot)
	assert.True(t, byUser["user-muted"].SelfMute)
}
