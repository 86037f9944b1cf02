// Package slack posts and edits dashboard messages through the Slack Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/slack-go/slack"

	"example.com/presence/internal/domain"
)

const defaultAPIBase = "https://slack.com/api"

// notFoundCodes are Slack error codes meaning the message or its channel is gone.
// is_archived is not among them: the channel still exists and a replacement post would
// fail the same way.
var notFoundCodes = map[string]struct{}{
	"message_not_found": {},
	"channel_not_found": {},
	"thread_not_found":  {},
}

type api interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
}

// Client implements domain.PlatformClient. Message ids are Slack message timestamps.
type Client struct {
	api api
}

// NewClient builds a Client for the bot token. An empty apiBase targets slack.com.
func NewClient(token, apiBase string, httpClient *http.Client) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("missing SLACK_BOT_TOKEN")
	}
	base := strings.TrimSpace(apiBase)
	if base == "" {
		base = defaultAPIBase
	}
	base = strings.TrimRight(base, "/") + "/"
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{api: slack.New(token, slack.OptionHTTPClient(httpClient), slack.OptionAPIURL(base))}, nil
}

// SendMessage posts the summary and returns the new message timestamp.
func (c *Client) SendMessage(ctx context.Context, channelID string, summary domain.Summary) (string, error) {
	_, ts, err := c.api.PostMessageContext(ctx, channelID, messageOptions(summary)...)
	if err != nil {
		return "", classify(err, domain.ErrChannelNotFound)
	}
	return ts, nil
}

// EditMessage replaces the content of an existing message.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, summary domain.Summary) error {
	_, _, _, err := c.api.UpdateMessageContext(ctx, channelID, messageID, messageOptions(summary)...)
	if err != nil {
		return classify(err, domain.ErrArtifactNotFound)
	}
	return nil
}

// FetchChannel looks the channel up. It returns (nil, nil) when Slack does not know it
// or it is archived, since neither can receive a new dashboard.
func (c *Client) FetchChannel(ctx context.Context, channelID string) (*domain.Channel, error) {
	ch, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		classified := classify(err, domain.ErrChannelNotFound)
		if errors.Is(classified, domain.ErrChannelNotFound) {
			return nil, nil
		}
		return nil, classified
	}
	if ch == nil || ch.IsArchived {
		return nil, nil
	}
	return &domain.Channel{ID: ch.ID, Name: ch.Name}, nil
}

// classify maps a Slack failure to notFound when the target is gone and to
// ErrPlatformUnavailable otherwise. The two never appear in the same chain.
func classify(err error, notFound error) error {
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		if _, ok := notFoundCodes[apiErr.Err]; ok {
			return fmt.Errorf("%w: %s", notFound, apiErr.Err)
		}
		return fmt.Errorf("%w: slack: %s", domain.ErrPlatformUnavailable, apiErr.Err)
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) && rle != nil {
		return fmt.Errorf("%w: slack rate limited, retry after %s", domain.ErrPlatformUnavailable, rle.RetryAfter)
	}
	return fmt.Errorf("%w: %w", domain.ErrPlatformUnavailable, err)
}
