package bot

import (
	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

type Config struct {
	Token     string
	AppID     string
	APIURL    string
	PublicURL string
	APIPrefix string
	// HealthURL defaults to APIURL + "/health".
	HealthURL  string
	StatusFile string
	MaxScale   int
	// MaxAttachment caps what the bot will fetch from Discord and forward.
	MaxAttachment int64
}

type Bot struct {
	session *discordgo.Session
	cfg     Config
	api     *apiClient
	cmdIDs  []string
	status  *statusMonitor
	logger  zerolog.Logger
	// maxFileSize is the largest result attached directly to a reply.
	maxFileSize int64
}

func New(cfg Config, logger zerolog.Logger) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, err
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = cfg.APIURL
	}
	if cfg.HealthURL == "" {
		cfg.HealthURL = cfg.APIURL + "/health"
	}
	if cfg.StatusFile == "" {
		cfg.StatusFile = "status-config.json"
	}
	if cfg.MaxScale <= 0 {
		cfg.MaxScale = 4
	}
	if cfg.MaxAttachment <= 0 {
		cfg.MaxAttachment = 500 * 1024 * 1024
	}

	b := &Bot{
		session: s,
		cfg:     cfg,
		api:     newAPIClient(cfg.APIURL, cfg.APIPrefix),
		logger:  logger.With().Str("component", "bot").Logger(),

		maxFileSize: maxDiscordFileSize,
	}

	s.AddHandler(b.handleInteraction)
	s.Identify.Intents = discordgo.IntentsGuilds

	return b, nil
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return err
	}

	b.logger.Info().Str("user", b.session.State.User.Username).Msg("bot logged in")

	b.status = newStatusMonitor(b.session, b.cfg.HealthURL, b.cfg.StatusFile, b.logger)
	b.status.start()

	for _, cmd := range b.commandDefinitions() {
		created, err := b.session.ApplicationCommandCreate(b.cfg.AppID, "", cmd)
		if err != nil {
			b.logger.Error().Err(err).Str("command", cmd.Name).Msg("failed to register command")
			continue
		}
		b.cmdIDs = append(b.cmdIDs, created.ID)
		b.logger.Info().Str("command", created.Name).Msg("registered command")
	}

	return nil
}

func (b *Bot) Stop() {
	if b.status != nil {
		b.status.stop()
	}
	for _, id := range b.cmdIDs {
		b.session.ApplicationCommandDelete(b.cfg.AppID, "", id)
	}
	b.session.Close()
}

func (b *Bot) commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "enhance",
			Description: "Upscale and clean up a video",
			IntegrationTypes: &[]discordgo.ApplicationIntegrationType{
				discordgo.ApplicationIntegrationGuildInstall,
				discordgo.ApplicationIntegrationUserInstall,
			},
			Contexts: &[]discordgo.InteractionContextType{
				discordgo.InteractionContextGuild,
				discordgo.InteractionContextBotDM,
				discordgo.InteractionContextPrivateChannel,
			},
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionAttachment,
					Name:        "file",
					Description: "The video to enhance",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "scale",
					Description: "Upscale factor (default: 2)",
					Required:    false,
					MinValue:    &[]float64{1}[0],
					MaxValue:    float64(b.cfg.MaxScale),
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "denoise",
					Description: "Reduce noise (default: on)",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "sharpen",
					Description: "Sharpen edges (default: on)",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "enhance_colors",
					Description: "Boost contrast and saturation (default: on)",
					Required:    false,
				},
			},
		},
		{
			Name:                     "set-status",
			Description:              "Set this channel as the status notification channel",
			DefaultMemberPermissions: &[]int64{discordgo.PermissionManageServer}[0],
			Options:                  []*discordgo.ApplicationCommandOption{},
		},
	}
}

func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	switch i.ApplicationCommandData().Name {
	case "enhance":
		b.handleEnhance(s, i)
	case "set-status":
		b.handleSetStatus(s, i)
	}
}
