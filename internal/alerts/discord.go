package alerts

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/coah80/enhancer/internal/config"
)

const (
	colorOrange = 0xFFA500
	colorRed    = 0xFF4444
	colorCrit   = 0xFF0000
	colorGreen  = 0x2ECC71
)

var ErrBadWebhookURL = errors.New("discord webhook url must look like https://discord.com/api/webhooks/<id>/<token>")

// Discord posts operational alerts to a channel webhook. A nil *Discord is a
// valid notifier that drops everything.
type Discord struct {
	session    *discordgo.Session
	webhookID  string
	token      string
	pingUserID string
	logger     zerolog.Logger

	mu        sync.Mutex
	cooldowns map[string]time.Time
	now       func() time.Time
	execute   func(*discordgo.WebhookParams) error
}

// New returns nil when no webhook is configured.
func New(cfg config.Discord, logger zerolog.Logger) (*Discord, error) {
	if cfg.WebhookURL == "" {
		return nil, nil
	}
	id, token, err := ParseWebhookURL(cfg.WebhookURL)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}

	d := &Discord{
		session:    session,
		webhookID:  id,
		token:      token,
		pingUserID: cfg.PingUserID,
		logger:     logger.With().Str("component", "alerts").Logger(),
		cooldowns:  make(map[string]time.Time),
		now:        time.Now,
	}
	d.execute = func(p *discordgo.WebhookParams) error {
		_, err := d.session.WebhookExecute(d.webhookID, d.token, false, p)
		return err
	}
	return d, nil
}

// ParseWebhookURL splits a webhook URL into its id and token.
func ParseWebhookURL(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", ErrBadWebhookURL
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", ErrBadWebhookURL
}

func (d *Discord) send(category string, cooldown time.Duration, ping bool, color int, title, description string, fields [][2]string) {
	if d == nil {
		return
	}

	d.mu.Lock()
	now := d.now()
	if cooldown > 0 {
		if last, ok := d.cooldowns[category]; ok && now.Sub(last) < cooldown {
			d.mu.Unlock()
			return
		}
	}
	d.cooldowns[category] = now
	d.mu.Unlock()

	var embedFields []*discordgo.MessageEmbedField
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		embedFields = append(embedFields, &discordgo.MessageEmbedField{Name: f[0], Value: truncate(f[1], 1024), Inline: true})
	}

	params := &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       title,
			Description: truncate(description, 2048),
			Color:       color,
			Fields:      embedFields,
			Timestamp:   now.UTC().Format(time.RFC3339),
			Footer:      &discordgo.MessageEmbedFooter{Text: "enhancer"},
		}},
	}
	if ping && d.pingUserID != "" {
		params.Content = fmt.Sprintf("<@%s>", d.pingUserID)
	}

	go func() {
		if err := d.execute(params); err != nil {
			d.logger.Warn().Err(err).Str("category", category).Msg("discord send failed")
		}
	}()
}

func (d *Discord) ServerStarted(version, addr string) {
	d.send("server-start", 0, false, colorGreen, "Server Started", fmt.Sprintf("enhancer %s listening on %s", version, addr), nil)
}

func (d *Discord) ServerStopping() {
	d.send("server-stop", 0, false, colorOrange, "Server Stopping", "enhancer is shutting down", nil)
}

func (d *Discord) RunFailed(id, filename, message string) {
	d.send("run", 5*time.Second, true, colorRed, "Enhancement Failed", message, [][2]string{
		{"Job", id},
		{"File", truncate(filename, 200)},
	})
}

func (d *Discord) RunsInterrupted(n int) {
	if n == 0 {
		return
	}
	d.send("recover", 0, false, colorOrange, "Interrupted Runs", fmt.Sprintf("%d run(s) were in progress when the server last stopped and have been marked as failed.", n), nil)
}

func (d *Discord) DiskSpaceLow(dir string, avail uint64) {
	d.send("disk", 10*time.Minute, true, colorCrit, "Disk Space Low", fmt.Sprintf("%s has %s free", dir, humanize.IBytes(avail)), nil)
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen-3] + "..."
	}
	return s
}
