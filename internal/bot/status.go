package bot

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

const statusCheckInterval = 60 * time.Second

type statusConfig struct {
	GuildChannels map[string]string `json:"guildChannels"` // guildID -> channelID
}

type siteStatus struct {
	up   bool
	code int
}

type statusMonitor struct {
	healthURL string
	path      string
	client    *http.Client
	logger    zerolog.Logger
	send      func(channelID string, embed *discordgo.MessageEmbed) error

	mu     sync.RWMutex
	config statusConfig
	lastUp *bool
	done   chan struct{}
	once   sync.Once
}

func newStatusMonitor(s *discordgo.Session, healthURL, path string, logger zerolog.Logger) *statusMonitor {
	m := &statusMonitor{
		healthURL: healthURL,
		path:      path,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger.With().Str("component", "status").Logger(),
		config:    statusConfig{GuildChannels: make(map[string]string)},
		done:      make(chan struct{}),
	}
	if s != nil {
		m.send = func(channelID string, embed *discordgo.MessageEmbed) error {
			_, err := s.ChannelMessageSendEmbed(channelID, embed)
			return err
		}
	}
	m.loadConfig()
	return m
}

func (m *statusMonitor) loadConfig() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &m.config); err != nil {
		m.logger.Warn().Err(err).Str("path", m.path).Msg("ignoring unreadable status config")
	}
	if m.config.GuildChannels == nil {
		m.config.GuildChannels = make(map[string]string)
	}
}

func (m *statusMonitor) saveConfig() error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m.config, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func (m *statusMonitor) setChannel(guildID, channelID string) error {
	m.mu.Lock()
	m.config.GuildChannels[guildID] = channelID
	m.mu.Unlock()
	return m.saveConfig()
}

func (m *statusMonitor) checkHealth() siteStatus {
	resp, err := m.client.Get(m.healthURL)
	if err != nil {
		return siteStatus{up: false, code: 0}
	}
	defer resp.Body.Close()
	return siteStatus{up: resp.StatusCode == http.StatusOK, code: resp.StatusCode}
}

func (m *statusMonitor) start() {
	go func() {
		select {
		case <-time.After(5 * time.Second):
		case <-m.done:
			return
		}
		m.tick()

		ticker := time.NewTicker(statusCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.tick()
			case <-m.done:
				return
			}
		}
	}()
	m.logger.Info().Str("url", m.healthURL).Dur("interval", statusCheckInterval).Msg("status monitor started")
}

func (m *statusMonitor) stop() {
	m.once.Do(func() { close(m.done) })
}

// tick reports whether the service changed state since the last check.
func (m *statusMonitor) tick() bool {
	status := m.checkHealth()

	if m.lastUp == nil {
		m.lastUp = &status.up
		m.logger.Info().Bool("up", status.up).Int("code", status.code).Msg("initial api state")
		return false
	}

	wasUp := *m.lastUp
	if status.up == wasUp {
		return false
	}

	m.lastUp = &status.up
	m.logger.Warn().Bool("was_up", wasUp).Bool("up", status.up).Msg("api state changed")
	m.broadcast(status)
	return true
}

func (m *statusMonitor) broadcast(status siteStatus) {
	m.mu.RLock()
	channels := make(map[string]string, len(m.config.GuildChannels))
	for k, v := range m.config.GuildChannels {
		channels[k] = v
	}
	m.mu.RUnlock()

	if len(channels) == 0 || m.send == nil {
		return
	}

	embed := statusEmbed(status, time.Now())
	for guildID, channelID := range channels {
		if err := m.send(channelID, embed); err != nil {
			m.logger.Error().Err(err).Str("guild", guildID).Str("channel", channelID).Msg("status broadcast failed")
		}
	}
}

func (b *Bot) handleSetStatus(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		respondEphemeral(s, i, "This command can only be used in a server.")
		return
	}

	channelID := i.ChannelID
	if err := b.status.setChannel(i.GuildID, channelID); err != nil {
		b.logger.Error().Err(err).Msg("failed to save status config")
		respondEphemeral(s, i, "Failed to save status channel config.")
		return
	}

	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:       "Status channel set",
					Description: fmt.Sprintf("Status updates will be posted to <#%s>.\n\nYou'll be notified when the enhancer API goes down or comes back up.", channelID),
					Color:       colorSuccess,
					Footer:      &discordgo.MessageEmbedFooter{Text: "enhancer status"},
				},
			},
		},
	})
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func statusEmbed(status siteStatus, now time.Time) *discordgo.MessageEmbed {
	if status.up {
		return &discordgo.MessageEmbed{
			Title:       "Enhancer API is back online",
			Description: "All systems operational.",
			Color:       colorSuccess,
			Timestamp:   now.Format(time.RFC3339),
			Footer:      &discordgo.MessageEmbedFooter{Text: "enhancer status"},
		}
	}

	desc := "The enhancer API appears to be down."
	if status.code > 0 {
		desc += fmt.Sprintf(" (HTTP %d)", status.code)
	}

	return &discordgo.MessageEmbed{
		Title:       "Enhancer API is down",
		Description: desc,
		Color:       colorError,
		Timestamp:   now.Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "enhancer status"},
	}
}
