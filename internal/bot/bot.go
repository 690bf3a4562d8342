package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/assistant/internal/assistant"
	"github.com/xaenox/assistant/internal/chat"
	"github.com/xaenox/assistant/internal/models"
	"go.uber.org/zap"
)

const (
	historySize  = 10
	sessionsSize = 10
	titleLength  = 40
)

// telegramAPI is the part of *tgbotapi.BotAPI the bot uses.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bot struct {
	api          telegramAPI
	chat         *chat.Service
	conversation *assistant.Conversation
	logger       *zap.Logger

	// sessionMu keeps concurrent messages from opening two sessions for one user.
	sessionMu sync.Mutex
	wg        sync.WaitGroup
}

func New(token string, svc *chat.Service, conversation *assistant.Conversation, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	logger.Info("Authorized on Telegram", zap.String("account", api.Self.UserName))
	return newBot(api, svc, conversation, logger), nil
}

func newBot(api telegramAPI, svc *chat.Service, conversation *assistant.Conversation, logger *zap.Logger) *Bot {
	return &Bot{
		api:          api,
		chat:         svc,
		conversation: conversation,
		logger:       logger,
	}
}

// Start receives updates until ctx is cancelled, then waits for in-flight
// messages to finish.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			b.wg.Add(1)
			go func(message *tgbotapi.Message) {
				defer b.wg.Done()
				b.handleMessage(ctx, message)
			}(update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Handle commands
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		b.sendMessage(message.Chat.ID, "I can only read text messages for now.")
		return
	}

	userID := telegramUserID(message.From.ID)
	session, err := b.currentSession(ctx, userID, content)
	if err != nil {
		b.logger.Error("Failed to open session",
			zap.Error(err),
			zap.String("user_id", userID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't open a conversation. Please try again.")
		return
	}

	metadata := models.Metadata{
		"source":     models.String("telegram"),
		"message_id": models.Number(float64(message.MessageID)),
	}
	_, reply, err := b.conversation.Send(ctx, session.ID, content, metadata)
	if err != nil {
		b.logger.Error("Failed to save message",
			zap.Error(err),
			zap.String("session_id", session.ID),
			zap.String("user_id", userID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't save your message. Please try again.")
		return
	}

	text := "Saved."
	if reply != nil {
		text = reply.Content
	}
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ReplyToMessageID = message.MessageID
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send reply",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "new":
		b.handleNew(ctx, message)
	case "sessions":
		b.handleSessions(ctx, message)
	case "history":
		b.handleHistory(ctx, message)
	case "archive":
		b.handleArchive(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome! 💬
I'm your assistant. Just send me a message and I'll answer.

Your conversation is kept until you start a new one with /new.
Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/new [title] - Start a new conversation
/sessions - List your conversations
/history - Show recent messages of the current conversation
/archive - Archive the current conversation`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleNew(ctx context.Context, message *tgbotapi.Message) {
	userID := telegramUserID(message.From.ID)
	// Load stored sessions first; CreateSession on a cold cache would hide them.
	_, err := b.chat.GetSessions(ctx, userID, "")
	var session *models.Session
	if err == nil {
		session, err = b.chat.CreateSession(ctx, userID, strings.TrimSpace(message.CommandArguments()),
			models.Metadata{"source": models.String("telegram")})
	}
	if err != nil {
		b.logger.Error("Failed to create session",
			zap.Error(err),
			zap.String("user_id", userID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't start a new conversation.")
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("Started a new conversation: %s", session.Title))
}

func (b *Bot) handleSessions(ctx context.Context, message *tgbotapi.Message) {
	userID := telegramUserID(message.From.ID)
	sessions, err := b.chat.GetSessions(ctx, userID, "")
	if err != nil {
		b.logger.Error("Failed to get sessions",
			zap.Error(err),
			zap.String("user_id", userID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, failed to retrieve your conversations. Please try again later.")
		return
	}

	if len(sessions) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any conversations yet.")
		return
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, formatSessions(sessions))
	msg.ParseMode = "MarkdownV2"
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send sessions message",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) handleHistory(ctx context.Context, message *tgbotapi.Message) {
	userID := telegramUserID(message.From.ID)
	session, err := b.latestActive(ctx, userID)
	if err != nil {
		b.logger.Error("Failed to get sessions",
			zap.Error(err),
			zap.String("user_id", userID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your message history.")
		return
	}
	if session == nil {
		b.sendMessage(message.Chat.ID, "You don't have any messages yet.")
		return
	}

	messages, err := b.chat.GetSessionMessages(ctx, session.ID, chat.MessageQuery{Limit: historySize})
	if err != nil {
		b.logger.Error("Failed to get session messages",
			zap.Error(err),
			zap.String("session_id", session.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your message history.")
		return
	}
	if len(messages) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any messages yet.")
		return
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, formatHistory(session, messages))
	msg.ParseMode = "MarkdownV2"
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send history message",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) handleArchive(ctx context.Context, message *tgbotapi.Message) {
	userID := telegramUserID(message.From.ID)
	session, err := b.latestActive(ctx, userID)
	if err == nil && session == nil {
		b.sendMessage(message.Chat.ID, "There is no active conversation to archive.")
		return
	}
	if err == nil {
		session, err = b.chat.ArchiveSession(ctx, session.ID)
	}
	if err != nil {
		b.logger.Error("Failed to archive session",
			zap.Error(err),
			zap.String("user_id", userID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't archive the conversation.")
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("Archived: %s", session.Title))
}

// currentSession returns the user's most recently active session, opening a
// new one titled after firstMessage when none is active.
func (b *Bot) currentSession(ctx context.Context, userID, firstMessage string) (*models.Session, error) {
	b.sessionMu.Lock()
	defer b.sessionMu.Unlock()

	session, err := b.latestActive(ctx, userID)
	if err != nil || session != nil {
		return session, err
	}
	return b.chat.CreateSession(ctx, userID, sessionTitle(firstMessage),
		models.Metadata{"source": models.String("telegram")})
}

func (b *Bot) latestActive(ctx context.Context, userID string) (*models.Session, error) {
	sessions, err := b.chat.GetSessions(ctx, userID, models.SessionActive)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

func telegramUserID(id int64) string {
	return "tg:" + strconv.FormatInt(id, 10)
}

func sessionTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= titleLength {
		return text
	}
	return strings.TrimSpace(string(runes[:titleLength])) + "…"
}

func formatSessions(sessions []*models.Session) string {
	response := "*Your conversations:*\n"
	for i, session := range sessions {
		if i == sessionsSize {
			response += escapeMarkdown(fmt.Sprintf("… and %d more", len(sessions)-sessionsSize)) + "\n"
			break
		}
		marker := "💬"
		if session.Status == models.SessionArchived {
			marker = "🗄"
		}
		response += fmt.Sprintf("%s %s _%s_\n", marker,
			escapeMarkdown(session.Title),
			escapeMarkdown(session.LastMessageAt.Format("2006-01-02 15:04")))
	}
	return response
}

// formatHistory renders messages, given newest first, in chronological order.
func formatHistory(session *models.Session, messages []*models.Message) string {
	response := fmt.Sprintf("*%s*\n\n", escapeMarkdown(session.Title))
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		who := "You"
		if msg.Role == models.RoleAssistant {
			who = "Assistant"
		}
		response += fmt.Sprintf("*%s:* %s\n", who, escapeMarkdown(msg.Content))
	}
	return response
}

// escapeMarkdown escapes special characters for MarkdownV2.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
