package voxtally

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	// voiceTimeMonthOption is the option name used for the optional
	// month argument of the /voicetime command.
	voiceTimeMonthOption = "month"
)

// Discord manages the gateway session: connection lifecycle, slash
// command registration, and the handlers feeding the rest of the bot.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	readyOnce                   sync.Once
	discordgoRemoveHandlerFuncs []func()
	vt                          *VoxTally
}

func newDiscord(config *DiscordConfig) (*Discord, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("discord token not set")
	}
	return &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
	}, nil
}

// newSession initializes a new Discord session for the Discord struct.
// State tracking stays enabled - the sampler reads voice channel
// occupancy straight out of gateway state.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = true
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level())
	if err != nil {
		return session, err
	}

	return session, nil
}

// appCommandVoiceTime returns the `/voicetime` command definition.
func (*Discord) appCommandVoiceTime() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandVoiceTime,
		Description: truncate(DefaultDiscordVoiceTimeDescription, 100),
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        voiceTimeMonthOption,
				Description: truncate(DefaultDiscordMonthOptionDescription, 100),
				Required:    false,
				MaxLength:   7,
			},
		},
	}
}

// registerCommands sends the bot's commands to the discord bulk
// overwrite endpoint.
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	commands := []*discordgo.ApplicationCommand{
		d.appCommandVoiceTime(),
	}

	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c.Name)
	}

	return created, nil
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, _ *discordgo.Ready) {
		d.logger.Info(
			"Ready",
			"session_id", s.State.SessionID,
			columnUserID, s.State.User.ID,
			"username", s.State.User.Username,
		)
		// the sampler and recap loops hold their first tick on this
		d.readyOnce.Do(
			func() {
				if d.vt != nil && d.vt.signalReady != nil {
					close(d.vt.signalReady)
				}
			},
		)
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)

		var sessionID string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
		}
		d.logger.Info("Connected", "session_id", sessionID)

		if d.config.StartupMessage != "" && d.vt != nil &&
			d.vt.config.Recap.ChannelID != "" {
			if _, sendErr := d.session.ChannelMessageSend(
				d.vt.config.Recap.ChannelID,
				d.config.StartupMessage,
			); sendErr != nil {
				d.logger.Error("unable to send startup message", tint.Err(sendErr))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)

		var sessionID string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
		}
		d.logger.Info("disconnected", "session_id", sessionID)
	}
}

func (d *Discord) updateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

// DiscordSessionHandler abstracts the discordgo session operations the
// bot actually uses, so handlers and recurring tasks can be exercised
// against a stub.
type DiscordSessionHandler interface {
	GuildRoster

	Open() error
	Close() error
	AddHandler(handler any) func()
	SetIdentify(i discordgo.Identify)
	SetLogLevel(lvl slog.Level) error
	UpdateCustomStatus(status string) error
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
	Channel(channelID string) (*discordgo.Channel, error)
	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
	) (*discordgo.Message, error)
	GuildMember(guildID string, userID string) (*discordgo.Member, error)
	User(userID string) (*discordgo.User, error)
}

// DiscordSession implements DiscordSessionHandler over a concrete
// discordgo session.
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl {
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("unknown log level: %v", lvl)
	}
	return nil
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

// Channel checks gateway state before falling back to the REST API.
func (d DiscordSession) Channel(channelID string) (*discordgo.Channel, error) {
	if d.session.State != nil {
		if ch, err := d.session.State.Channel(channelID); err == nil {
			return ch, nil
		}
	}
	return d.session.Channel(channelID)
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, content, options...)
}

func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendComplex(channelID, data)
}

// GuildMember checks gateway state before falling back to the REST API.
func (d DiscordSession) GuildMember(guildID string, userID string) (
	*discordgo.Member,
	error,
) {
	if d.session.State != nil {
		if member, err := d.session.State.Member(guildID, userID); err == nil {
			return member, nil
		}
	}
	return d.session.GuildMember(guildID, userID)
}

func (d DiscordSession) User(userID string) (*discordgo.User, error) {
	return d.session.User(userID)
}

// GuildVoicePresences snapshots voice channel occupancy for every guild
// in gateway state. Members with no channel (stale voice states) are
// dropped; the bot flag comes from the cached member when the voice
// state doesn't carry one.
func (d DiscordSession) GuildVoicePresences() []GuildVoicePresence {
	state := d.session.State
	if state == nil {
		return nil
	}

	state.RLock()
	defer state.RUnlock()

	presences := make([]GuildVoicePresence, 0, len(state.Guilds))
	for _, guild := range state.Guilds {
		presence := GuildVoicePresence{
			GuildID:      guild.ID,
			AFKChannelID: guild.AfkChannelID,
		}
		for _, vs := range guild.VoiceStates {
			if vs == nil || vs.ChannelID == "" {
				continue
			}
			member := VoiceChannelMember{
				UserID:    vs.UserID,
				GuildID:   guild.ID,
				ChannelID: vs.ChannelID,
				SelfMute:  vs.SelfMute,
				SelfDeaf:  vs.SelfDeaf,
			}
			if vs.Member != nil && vs.Member.User != nil {
				member.Bot = vs.Member.User.Bot
			} else {
				for _, m := range guild.Members {
					if m.User != nil && m.User.ID == vs.UserID {
						member.Bot = m.User.Bot
						break
					}
				}
			}
			presence.Members = append(presence.Members, member)
		}
		presences = append(presences, presence)
	}
	return presences
}

// getDiscordUser returns the invoking user for both guild and DM
// interactions.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	switch {
	case i.User != nil:
		return i.User
	case i.Member != nil:
		return i.Member.User
	default:
		return nil
	}
}
