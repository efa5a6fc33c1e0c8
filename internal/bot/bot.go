package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg_digest/internal/config"
	"tg_digest/internal/listener"
	"tg_digest/internal/model"
	"tg_digest/internal/storage"
	"tg_digest/internal/summarizer"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// EventHandler receives channel posts as events.
type EventHandler interface {
	Handle(ctx context.Context, ev model.Event) listener.Outcome
}

// Summaries runs a summary for a channel.
type Summaries interface {
	RequestSummary(ctx context.Context, channelID int64) (*summarizer.Report, error)
}

// Refresher reloads the monitored-channel registry.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Bot is the Telegram bot. It receives channel posts, answers admin commands
// and delivers digests.
type Bot struct {
	api       telegramAPI
	store     storage.Storage
	cfg       *config.Config
	events    EventHandler
	summaries Summaries
	registry  Refresher
	log       *slog.Logger

	wg sync.WaitGroup
}

// New creates a Bot with the given Telegram token, storage, and config.
func New(token string, store storage.Storage, cfg *config.Config, events EventHandler, summaries Summaries, registry Refresher, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:       api,
		store:     store,
		cfg:       cfg,
		events:    events,
		summaries: summaries,
		registry:  registry,
		log:       log,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
// Updates are handled one at a time in delivery order; summaries run in the
// background and are awaited before Run returns.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "channel_post", "callback_query"}

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.ChannelPost != nil:
		b.handlePost(ctx, update.ChannelPost)
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if cb.From == nil || cb.Message == nil || !b.cfg.IsUserAllowed(cb.From.ID) {
			return
		}
		b.handleCallback(ctx, cb)
	case update.Message != nil && update.Message.IsCommand():
		if update.Message.From == nil || !b.cfg.IsUserAllowed(update.Message.From.ID) {
			b.reply(update.Message.Chat.ID, "Доступ запрещён.")
			return
		}
		b.handleCommand(ctx, update.Message)
	case update.Message != nil:
		// Public groups with a username are monitored the same way as channels.
		if update.Message.Chat != nil && update.Message.Chat.UserName != "" {
			b.handlePost(ctx, update.Message)
		}
	}
}

func (b *Bot) handlePost(ctx context.Context, post *tgbotapi.Message) {
	ev := EventFromPost(post)
	outcome := b.events.Handle(ctx, ev)
	b.log.Debug("channel post", "channel", ev.ChatHandle, "msg_id", ev.MessageID, "outcome", outcome.String())
}

// EventFromPost converts a channel post into an Event.
func EventFromPost(post *tgbotapi.Message) model.Event {
	ev := model.Event{
		MessageID: int64(post.MessageID),
		Text:      post.Text,
		Timestamp: post.Time().UTC(),
	}
	if ev.Text == "" {
		ev.Text = post.Caption
	}
	if post.Chat != nil {
		ev.ChatHandle = post.Chat.UserName
	}
	switch {
	case post.SenderChat != nil:
		ev.SenderID = strconv.FormatInt(post.SenderChat.ID, 10)
	case post.From != nil:
		ev.SenderID = strconv.FormatInt(post.From.ID, 10)
	case post.Chat != nil:
		ev.SenderID = strconv.FormatInt(post.Chat.ID, 10)
	}
	return ev
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) refreshRegistry(ctx context.Context) {
	if b.registry == nil {
		return
	}
	if err := b.registry.Refresh(ctx); err != nil {
		b.log.Error("refresh registry", "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case cmdChannels, "list":
		b.handleChannels(ctx, chatID)
	case "add":
		b.handleAdd(ctx, chatID, args)
	case cmdToggle:
		b.handleToggle(ctx, chatID, args)
	case "remove":
		b.handleRemove(ctx, chatID, args)
	case cmdSummary:
		b.handleSummary(ctx, chatID, args)
	case "stats":
		b.handleStats(ctx, chatID)
	case "summaries":
		b.handleSummaries(ctx, chatID, args)
	default:
		b.reply(chatID, "Неизвестная команда. Список команд: /help")
	}
}
