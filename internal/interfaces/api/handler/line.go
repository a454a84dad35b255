package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"calendar/internal/application/service"
	"calendar/internal/infrastructure/line"
	appErrors "calendar/internal/pkg/errors"
	"calendar/internal/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/line/line-bot-sdk-go/v7/linebot"
)

const lineHelpText = "Send \"join <note id>\" to get that note's reminder here, \"leave <note id>\" to stop."

// LineHandler lets LINE users subscribe to note reminders via the webhook.
type LineHandler struct {
	lineClient    *line.Client
	noteService   service.NoteService
	subscriptions Subscriptions
	log           logger.Logger
}

// NewLineHandler creates a new LineHandler.
func NewLineHandler(
	lineClient *line.Client,
	noteService service.NoteService,
	subscriptions Subscriptions,
	log logger.Logger,
) *LineHandler {
	return &LineHandler{
		lineClient:    lineClient,
		noteService:   noteService,
		subscriptions: subscriptions,
		log:           log,
	}
}

// HandleWebhook is the main entry point for webhook requests.
func (h *LineHandler) HandleWebhook(c echo.Context) error {
	ctx := c.Request().Context()
	events, err := h.lineClient.ParseRequest(c.Request())
	if err != nil {
		if errors.Is(err, linebot.ErrInvalidSignature) {
			h.log.Warn("Invalid LINE signature received")
			return c.String(http.StatusBadRequest, "Invalid signature")
		}
		h.log.Error("Failed to parse LINE webhook request", err)
		return c.String(http.StatusInternalServerError, "Error parsing request")
	}

	for _, event := range events {
		switch event.Type {
		case linebot.EventTypeMessage:
			h.handleMessageEvent(ctx, event)
		case linebot.EventTypeFollow:
			h.reply(event.ReplyToken, lineHelpText)
		case linebot.EventTypeUnfollow:
			h.handleUnfollowEvent(event)
		default:
			h.log.Debug(fmt.Sprintf("Unhandled event type: %s", event.Type))
		}
	}

	return c.String(http.StatusOK, "OK")
}

// handleUnfollowEvent drops every subscription of a user who blocked the bot.
func (h *LineHandler) handleUnfollowEvent(event *linebot.Event) {
	userID := event.Source.UserID
	h.log.Info(fmt.Sprintf("User %s unfollowed or blocked the bot.", userID))
	h.subscriptions.UnsubscribeAll(h.lineClient.NewSubscriber(userID).Key())
}

// handleMessageEvent processes "join <id>" and "leave <id>" commands.
func (h *LineHandler) handleMessageEvent(ctx context.Context, event *linebot.Event) {
	message, ok := event.Message.(*linebot.TextMessage)
	if !ok {
		h.reply(event.ReplyToken, lineHelpText)
		return
	}
	userID := event.Source.UserID
	fields := strings.Fields(message.Text)
	if len(fields) != 2 {
		h.reply(event.ReplyToken, lineHelpText)
		return
	}
	command, noteID := strings.ToLower(fields[0]), fields[1]
	sub := h.lineClient.NewSubscriber(userID)

	switch command {
	case "join":
		note, err := h.noteService.GetNote(ctx, noteID)
		if err != nil {
			if errors.Is(err, appErrors.ErrNoteNotFound) {
				h.reply(event.ReplyToken, fmt.Sprintf("No note with id %s.", noteID))
				return
			}
			h.reply(event.ReplyToken, "Could not look up that note, please try again later.")
			return
		}
		h.subscriptions.Subscribe(note.ID, sub)
		h.log.Info(fmt.Sprintf("LINE user %s joined topic %s", userID, note.ID))
		h.reply(event.ReplyToken, fmt.Sprintf("You will be reminded about \"%s\" at %s UTC.", note.Title, note.ReminderAt.Format("2006-01-02 15:04")))
	case "leave":
		h.subscriptions.Unsubscribe(noteID, sub.Key())
		h.log.Info(fmt.Sprintf("LINE user %s left topic %s", userID, noteID))
		h.reply(event.ReplyToken, fmt.Sprintf("Stopped reminders for %s.", noteID))
	default:
		h.reply(event.ReplyToken, lineHelpText)
	}
}

// reply sends a text reply, logging failures.
func (h *LineHandler) reply(replyToken, text string) {
	if replyToken == "" {
		return
	}
	if err := h.lineClient.SendMessages(replyToken, linebot.NewTextMessage(text)); err != nil {
		h.log.Error(fmt.Sprintf("Failed to send reply message: %s", text), err)
	}
}
