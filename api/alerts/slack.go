// Package alerts delivers critical claim reconciliation alerts to Slack.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/slack-go/slack"

	"github.com/xesslabs/ledger/utils/pkg/retry"
)

// poster is the slice of the Slack API the alerter uses.
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackAlerterConfig holds the Slack alerter dependencies.
type SlackAlerterConfig struct {
	Logger  *slog.Logger
	Channel string

	// Client is the Slack API client; tests inject a fake.
	Client poster

	// Retry wraps the post; zero value uses retry.DefaultConfig.
	Retry retry.Config
}

func (cfg *SlackAlerterConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Channel == "" {
		return errors.New("channel is required")
	}
	if cfg.Client == nil {
		return errors.New("slack client is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// SlackAlerter posts reconciliation alerts to an operator channel.
// Delivery is best effort: a failed post is logged, never propagated, so
// alerting can never block or fail a claim transition.
type SlackAlerter struct {
	log *slog.Logger
	cfg SlackAlerterConfig
}

func NewSlackAlerter(cfg SlackAlerterConfig) (*SlackAlerter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SlackAlerter{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// NewSlackClient builds the real Slack API client from a bot token.
func NewSlackClient(botToken string) *slack.Client {
	return slack.New(botToken)
}

func (a *SlackAlerter) Alert(ctx context.Context, summary string, details map[string]string) {
	text := formatAlert(summary, details)

	err := retry.Do(ctx, a.cfg.Retry, func() error {
		_, _, err := a.cfg.Client.PostMessageContext(ctx, a.cfg.Channel,
			slack.MsgOptionText(text, false))
		return err
	})
	if err != nil {
		a.log.Error("alerts: failed to post to Slack", "channel", a.cfg.Channel, "summary", summary, "error", err)
	}
}

func formatAlert(summary string, details map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: *%s*", summary)

	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n• %s: `%s`", k, details[k])
	}
	return b.String()
}
