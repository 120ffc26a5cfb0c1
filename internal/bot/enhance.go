package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"

	"github.com/coah80/enhancer/internal/jobs"
	"github.com/coah80/enhancer/internal/services"
)

const (
	maxDiscordFileSize = 25 * 1024 * 1024
	enhanceTimeout     = 30 * time.Minute
)

type attachmentRef struct {
	URL      string
	Filename string
	Size     int64
}

// editFunc replaces the deferred interaction response.
type editFunc func(*discordgo.WebhookEdit)

func parseEnhanceOptions(options []*discordgo.ApplicationCommandInteractionDataOption) (string, services.Options) {
	attachmentID := ""
	opts := services.DefaultOptions()
	for _, opt := range options {
		switch opt.Name {
		case "file":
			if v, ok := opt.Value.(string); ok {
				attachmentID = v
			}
		case "scale":
			opts.Scale = int(opt.IntValue())
		case "denoise":
			opts.Denoise = opt.BoolValue()
		case "sharpen":
			opts.Sharpen = opt.BoolValue()
		case "enhance_colors":
			opts.EnhanceColors = opt.BoolValue()
		}
	}
	return attachmentID, opts
}

func (b *Bot) handleEnhance(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	attachmentID, opts := parseEnhanceOptions(data.Options)

	var attachment *discordgo.MessageAttachment
	if data.Resolved != nil {
		attachment = data.Resolved.Attachments[attachmentID]
	}
	if attachment == nil {
		s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{errorEmbed("Error", "No file attached")},
			},
		})
		return
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		b.logger.Error().Err(err).Msg("failed to defer enhance response")
		return
	}

	ref := attachmentRef{URL: attachment.URL, Filename: attachment.Filename, Size: int64(attachment.Size)}
	edit := func(e *discordgo.WebhookEdit) {
		if _, err := s.InteractionResponseEdit(i.Interaction, e); err != nil {
			b.logger.Warn().Err(err).Msg("interaction edit failed")
		}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), enhanceTimeout)
		defer cancel()
		b.processEnhance(ctx, ref, opts, edit)
	}()
}

func (b *Bot) processEnhance(ctx context.Context, att attachmentRef, opts services.Options, edit editFunc) {
	log := b.logger.With().Str("file", att.Filename).Logger()

	if att.Size > b.cfg.MaxAttachment {
		editEmbed(edit, errorEmbed("Enhancement Failed", fmt.Sprintf("File too large (max %s)", humanize.IBytes(uint64(b.cfg.MaxAttachment)))))
		return
	}
	if err := opts.Validate(b.cfg.MaxScale); err != nil {
		editEmbed(edit, errorEmbed("Enhancement Failed", "Invalid options: "+err.Error()))
		return
	}

	editEmbed(edit, progressEmbed("Uploading...", 0, att.Filename))

	data, err := b.api.fetchAttachment(ctx, att.URL, b.cfg.MaxAttachment)
	if err != nil {
		log.Warn().Err(err).Msg("attachment fetch failed")
		editEmbed(edit, errorEmbed("Enhancement Failed", "Could not read the attachment from Discord"))
		return
	}

	uploaded, err := b.api.upload(ctx, att.Filename, data)
	if err != nil {
		editEmbed(edit, errorEmbed("Upload Failed", err.Error()))
		return
	}
	log = log.With().Str("upload_id", uploaded.UploadID).Logger()

	started, err := b.api.process(ctx, uploaded.UploadID, opts)
	if err != nil {
		editEmbed(edit, errorEmbed("Enhancement Failed", err.Error()))
		return
	}
	editEmbed(edit, progressEmbed("Enhancing...", 10, fmt.Sprintf("%s · about %ds", describeOptions(opts), started.EstimatedSeconds)))

	record, err := b.pollJob(ctx, uploaded.UploadID, edit)
	if err != nil {
		editEmbed(edit, errorEmbed("Enhancement Failed", err.Error()))
		return
	}

	downloadURL := b.downloadURL(uploaded.UploadID)
	fileName := "enhanced_" + record.OriginalFilename

	fileData, dlName, err := b.api.download(ctx, uploaded.UploadID, b.maxFileSize)
	if err != nil {
		if !errors.Is(err, errTooLargeForDiscord) {
			log.Warn().Err(err).Msg("result download failed")
		}
		editEmbed(edit, successEmbed("Enhanced", fileName, 0, opts, downloadURL))
		return
	}
	if dlName != "" {
		fileName = dlName
	}

	edit(&discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{successEmbed("Enhanced", fileName, int64(len(fileData)), opts, "")},
		Files: []*discordgo.File{
			{
				Name:        fileName,
				ContentType: "video/mp4",
				Reader:      bytes.NewReader(fileData),
			},
		},
	})

	// Attached results are not kept on the server.
	if err := b.api.cleanup(ctx, uploaded.UploadID); err != nil {
		log.Warn().Err(err).Msg("cleanup failed")
	}
}

func (b *Bot) downloadURL(id string) string {
	return b.cfg.PublicURL + b.api.prefix + "/download/" + id
}

func (b *Bot) pollJob(ctx context.Context, id string, edit editFunc) (*jobs.Record, error) {
	lastProgress := -1
	lastMessage := ""

	for attempt := 0; ; attempt++ {
		record, err := b.api.status(ctx, id)
		if err != nil {
			return nil, err
		}

		switch record.State {
		case jobs.StateCompleted:
			return record, nil
		case jobs.StateError:
			msg := record.Message
			if msg == "" {
				msg = "Processing failed"
			}
			return nil, errors.New(msg)
		}

		if record.Progress != lastProgress || record.Message != lastMessage {
			lastProgress = record.Progress
			lastMessage = record.Message
			editEmbed(edit, progressEmbed("Enhancing...", record.Progress, record.Message))
		}

		select {
		case <-ctx.Done():
			return nil, errors.New("timed out waiting for the video to finish")
		case <-time.After(pollDelay(attempt)):
		}
	}
}

func pollDelay(attempt int) time.Duration {
	if attempt < 5 {
		return 500 * time.Millisecond
	}
	if attempt < 15 {
		return 1500 * time.Millisecond
	}
	return 3 * time.Second
}

func editEmbed(edit editFunc, embed *discordgo.MessageEmbed) {
	edit(&discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{embed},
	})
}
