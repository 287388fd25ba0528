// Package notify posts the rendered report to a Discord webhook.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

// maxContentLen is the Discord message content limit.
const maxContentLen = 2000

// Config configures report notifications.
type Config struct {
	// Enabled toggles notifications.
	Enabled bool `yaml:"enabled"`

	// WebhookURL is the Discord webhook,
	// https://discord.com/api/webhooks/<id>/<token>.
	WebhookURL string `yaml:"webhook_url"`

	// Attachments adds the report files to the message.
	Attachments bool `yaml:"attachments"`

	// Username overrides the webhook display name.
	Username string `yaml:"username"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if _, _, err := ParseWebhookURL(c.WebhookURL); err != nil {
		return err
	}

	return nil
}

// Attachment is a file sent with the message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

type executeFunc func(
	ctx context.Context,
	webhookID, token string,
	params *discordgo.WebhookParams,
) error

// Notifier delivers reports to a Discord webhook.
type Notifier struct {
	log       logrus.FieldLogger
	cfg       Config
	webhookID string
	token     string
	execute   executeFunc
}

// New creates a Notifier for the configured webhook.
func New(log logrus.FieldLogger, cfg Config) (*Notifier, error) {
	id, token, err := ParseWebhookURL(cfg.WebhookURL)
	if err != nil {
		return nil, err
	}

	// Webhook execution needs no bot token.
	dg, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}

	n := &Notifier{
		log:       log.WithField("component", "notify"),
		cfg:       cfg,
		webhookID: id,
		token:     token,
	}

	n.execute = func(
		ctx context.Context,
		webhookID, token string,
		params *discordgo.WebhookParams,
	) error {
		_, err := dg.WebhookExecute(webhookID, token, false, params, discordgo.WithContext(ctx))

		return err
	}

	return n, nil
}

// ParseWebhookURL extracts the webhook id and token.
func ParseWebhookURL(raw string) (string, string, error) {
	if raw == "" {
		return "", "", errors.New("webhook_url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parsing webhook url: %w", err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")

	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}

	return "", "", fmt.Errorf("webhook url %q has no /webhooks/<id>/<token> path", u.Redacted())
}

// Notify posts text, and the attachments when enabled. Text that does not
// fit a single message is truncated and attached in full.
func (n *Notifier) Notify(ctx context.Context, text string, attachments []Attachment) error {
	if !n.cfg.Attachments {
		attachments = nil
	}

	params := BuildParams(text, attachments)
	params.Username = n.cfg.Username

	if err := n.execute(ctx, n.webhookID, n.token, params); err != nil {
		if isPermanent(err) {
			return fmt.Errorf("discord rejected webhook: %w", err)
		}

		return fmt.Errorf("executing discord webhook: %w", err)
	}

	n.log.WithField("attachments", len(params.Files)).Info("Sent report notification")

	return nil
}

// BuildParams renders the webhook message for text and attachments.
func BuildParams(text string, attachments []Attachment) *discordgo.WebhookParams {
	const (
		fenceOpen  = "```\n"
		fenceClose = "\n```"
		more       = "\n…"
	)

	text = strings.TrimRight(text, "\n")

	files := make([]*discordgo.File, 0, len(attachments)+1)

	body := text
	if room := maxContentLen - len(fenceOpen) - len(fenceClose); len(body) > room {
		body = truncate(body, room-len(more)) + more

		files = append(files, &discordgo.File{
			Name:        "report.txt",
			ContentType: "text/plain",
			Reader:      strings.NewReader(text),
		})
	}

	for _, a := range attachments {
		files = append(files, &discordgo.File{
			Name:        a.Name,
			ContentType: a.ContentType,
			Reader:      bytes.NewReader(a.Data),
		})
	}

	return &discordgo.WebhookParams{
		Content: fenceOpen + body + fenceClose,
		Files:   files,
	}
}

// truncate cuts s to at most n bytes on a line boundary when possible.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	cut := s[:n]
	if i := strings.LastIndexByte(cut, '\n'); i > 0 {
		return cut[:i]
	}

	return cut
}

func isPermanent(err error) bool {
	if errors.Is(err, discordgo.ErrUnauthorized) {
		return true
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
	}

	return false
}
