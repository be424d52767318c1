package alerts

import (
	"context"
	"errors"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/require"

	"github.com/xesslabs/ledger/utils/pkg/retry"
	ledgertesting "github.com/xesslabs/ledger/utils/pkg/testing"
)

type fakePoster struct {
	channels []string
	err      error
}

func (p *fakePoster) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	p.channels = append(p.channels, channelID)
	return channelID, "ts", p.err
}

func TestLedger_Alerts_SlackAlerter(t *testing.T) {
	t.Parallel()

	t.Run("posts to the configured channel", func(t *testing.T) {
		t.Parallel()
		p := &fakePoster{}
		a, err := NewSlackAlerter(SlackAlerterConfig{
			Logger:  ledgertesting.NewLogger(),
			Channel: "#rewards-alerts",
			Client:  p,
		})
		require.NoError(t, err)

		a.Alert(context.Background(), "claim amount mismatch", map[string]string{"user": "u-a"})
		require.Equal(t, []string{"#rewards-alerts"}, p.channels)
	})

	t.Run("delivery failure does not propagate", func(t *testing.T) {
		t.Parallel()
		p := &fakePoster{err: errors.New("channel_not_found")}
		a, err := NewSlackAlerter(SlackAlerterConfig{
			Logger:  ledgertesting.NewLogger(),
			Channel: "#rewards-alerts",
			Client:  p,
			Retry:   retry.Config{MaxAttempts: 1, BaseBackoff: 1, MaxBackoff: 1},
		})
		require.NoError(t, err)

		// Alert must return normally even when the post fails.
		a.Alert(context.Background(), "claim amount mismatch", nil)
		require.Len(t, p.channels, 1)
	})

	t.Run("missing channel rejected", func(t *testing.T) {
		t.Parallel()
		_, err := NewSlackAlerter(SlackAlerterConfig{Logger: ledgertesting.NewLogger(), Client: &fakePoster{}})
		require.Error(t, err)
	})
}

func TestLedger_Alerts_FormatAlert(t *testing.T) {
	t.Parallel()

	text := formatAlert("claim amount mismatch", map[string]string{
		"user":  "u-a",
		"epoch": "5",
	})
	require.Contains(t, text, "*claim amount mismatch*")
	// Keys render sorted for stable alert text.
	require.Regexp(t, `(?s)epoch.*user`, text)
}
