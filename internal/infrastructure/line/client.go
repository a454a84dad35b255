package line

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	appErrors "calendar/internal/pkg/errors"
	"calendar/internal/pkg/logger"

	"github.com/line/line-bot-sdk-go/v7/linebot"
)

// Client wraps the linebot.Client.
type Client struct {
	*linebot.Client
	log logger.Logger
}

// NewClient creates a LINE Bot client from the channel credentials.
// Extra options (e.g. linebot.WithEndpointBase) are passed through.
func NewClient(channelSecret, channelToken string, log logger.Logger, opts ...linebot.ClientOption) (*Client, error) {
	if channelSecret == "" || channelToken == "" {
		return nil, fmt.Errorf("%w: channel secret and access token must be set", appErrors.ErrLineAPI)
	}
	bot, err := linebot.New(channelSecret, channelToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErrors.ErrLineAPI, err)
	}
	log.Info("Successfully created LINE Bot client.")
	return &Client{Client: bot, log: log}, nil
}

// SendMessages sends one or more messages using the ReplyMessage API.
func (c *Client) SendMessages(replyToken string, messages ...linebot.SendingMessage) error {
	if _, err := c.ReplyMessage(replyToken, messages...).Do(); err != nil {
		return fmt.Errorf("%w: reply: %v", appErrors.ErrLineAPI, err)
	}
	c.log.Debug("Successfully sent reply message.")
	return nil
}

// PushMessages sends one or more messages using the PushMessage API.
func (c *Client) PushMessages(ctx context.Context, to string, messages ...linebot.SendingMessage) error {
	if _, err := c.PushMessage(to, messages...).WithContext(ctx).Do(); err != nil {
		return fmt.Errorf("%w: push to %s: %w", appErrors.ErrLineAPI, to, err)
	}
	c.log.Debug("Successfully sent push message.")
	return nil
}

// ParseRequest parses incoming webhook requests.
func (c *Client) ParseRequest(r *http.Request) ([]*linebot.Event, error) {
	return c.Client.ParseRequest(r)
}

// reminderMessage is the subset of the notification payload rendered for LINE.
type reminderMessage struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	ReminderAt time.Time `json:"reminderAt"`
}

// Subscriber delivers topic messages to a LINE user as push messages.
type Subscriber struct {
	client *Client
	userID string
}

// NewSubscriber returns a notification subscriber for the LINE user.
func (c *Client) NewSubscriber(userID string) *Subscriber {
	return &Subscriber{client: c, userID: userID}
}

// Key identifies the LINE user across topics.
func (s *Subscriber) Key() string {
	return "line:" + s.userID
}

// Send renders the reminder payload as text and pushes it.
func (s *Subscriber) Send(ctx context.Context, msg []byte) error {
	var rm reminderMessage
	if err := json.Unmarshal(msg, &rm); err != nil {
		return fmt.Errorf("decode reminder payload: %w", err)
	}
	text := fmt.Sprintf("Reminder: %s (%s UTC)", rm.Title, rm.ReminderAt.UTC().Format("2006-01-02 15:04"))
	err := s.client.PushMessages(ctx, s.userID, linebot.NewTextMessage(text))
	if err != nil && userUnreachable(err) {
		return fmt.Errorf("%w: LINE user %s: %w", appErrors.ErrSubscriberGone, s.userID, err)
	}
	return err
}

// userUnreachable reports API errors that will not go away on retry: the
// user blocked the bot or no longer exists.
func userUnreachable(err error) bool {
	var apiErr *linebot.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusForbidden || apiErr.Code == http.StatusNotFound
}
