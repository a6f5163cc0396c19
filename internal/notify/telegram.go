package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"hunter_bot/internal/models"
	"hunter_bot/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

const confirmTimeout = 30 * time.Second

// Desk — то, что бот показывает и чем управляет из чата.
type Desk interface {
	Instructions() []models.TradeInstruction
	ActiveTrades() []models.ActiveTrade
	CloseAllTrades(ctx context.Context) int
}

// sender — часть BotAPI, нужная нотифайеру.
type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	Request(c tgbot.Chattable) (*tgbot.APIResponse, error)
}

// Telegram — уведомления в чат + команды /trades, /instructions, /closeall.
type Telegram struct {
	bot    sender
	api    *tgbot.BotAPI
	chatID int64

	mu       sync.Mutex
	pendings map[string]*pending
	cancel   context.CancelFunc
}

type pending struct {
	ch     chan bool
	msgID  int
	prompt string
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram: init bot")
	}
	t := newTelegram(b, chatID)
	t.api = b
	return t, nil
}

func newTelegram(bot sender, chatID int64) *Telegram {
	return &Telegram{
		bot:      bot,
		chatID:   chatID,
		pendings: make(map[string]*pending),
	}
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		logger.Warn("[TELEGRAM] send failed: %v", err)
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// HandleCallback разбирает CONF::token / REJ::token.
func (t *Telegram) HandleCallback(cb *tgbot.CallbackQuery) {
	if t == nil || t.bot == nil || cb == nil {
		return
	}

	// ответ Telegram для остановки спиннера
	_, _ = t.bot.Request(tgbot.NewCallback(cb.ID, ""))

	verb, token, found := strings.Cut(cb.Data, "::")
	if !found || verb == "" || token == "" {
		return
	}

	p, ok := t.take(token)
	if !ok {
		return
	}

	accepted := verb == "CONF"
	p.ch <- accepted

	status, emoji := "Отклонено", "❌"
	if accepted {
		status, emoji = "Подтверждено", "✅"
	}
	t.finish(p, fmt.Sprintf("%s %s", emoji, status))
}

// take снимает ожидание; копия безопасна для чтения без мьютекса.
func (t *Telegram) take(token string) (pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pendings[token]
	if !ok {
		return pending{}, false
	}
	delete(t.pendings, token)
	return *p, true
}

func (t *Telegram) finish(p pending, suffix string) {
	if p.msgID == 0 {
		return
	}
	rm := tgbot.InlineKeyboardMarkup{InlineKeyboard: [][]tgbot.InlineKeyboardButton{}}
	_, _ = t.bot.Request(tgbot.NewEditMessageReplyMarkup(t.chatID, p.msgID, rm))
	_, _ = t.bot.Request(tgbot.NewEditMessageText(t.chatID, p.msgID, fmt.Sprintf("%s\n\n%s", p.prompt, suffix)))
}

// Confirm — сообщение с кнопками и ожиданием callback.
func (t *Telegram) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return true
	}

	token := fmt.Sprintf("%d", time.Now().UnixNano())
	p := &pending{
		ch:     make(chan bool, 1),
		prompt: prompt,
	}

	t.mu.Lock()
	t.pendings[token] = p
	t.mu.Unlock()

	btnYes := tgbot.NewInlineKeyboardButtonData("✅ Да", "CONF::"+token)
	btnNo := tgbot.NewInlineKeyboardButtonData("❌ Нет", "REJ::"+token)
	msg := tgbot.NewMessage(t.chatID, prompt)
	msg.ReplyMarkup = tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(btnYes, btnNo))

	sent, err := t.bot.Send(msg)
	if err != nil {
		t.take(token)
		logger.Warn("[TELEGRAM] confirm send failed: %v", err)
		return false
	}
	t.mu.Lock()
	p.msgID = sent.MessageID
	t.mu.Unlock()

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	select {
	case ok := <-p.ch:
		return ok
	case <-tmr.C:
		if cp, ok := t.take(token); ok {
			t.finish(cp, "⏳ Таймаут")
		}
		return false
	case <-ctx.Done():
		if cp, ok := t.take(token); ok {
			t.finish(cp, "⛔️ Отменено")
		}
		return false
	}
}

func (t *Telegram) handleTrades(desk Desk) {
	trades := desk.ActiveTrades()
	if len(trades) == 0 {
		t.Send("📭 Открытых сделок нет")
		return
	}
	var b strings.Builder
	b.WriteString("📊 Открытые сделки:\n")
	for _, tr := range trades {
		fmt.Fprintf(&b, "- #%d %s [%s] lot=%.2f @ %.5f tp=%.5f sl=%.5f\n",
			tr.Ticket, tr.Symbol, strings.ToUpper(string(tr.Direction)), tr.LotSize, tr.EntryPrice, tr.ExitPrice, tr.StopLoss)
	}
	t.Send(b.String())
}

func (t *Telegram) handleInstructions(desk Desk) {
	list := desk.Instructions()
	if len(list) == 0 {
		t.Send("📭 Отложенных инструкций нет")
		return
	}
	var b strings.Builder
	b.WriteString("📝 Инструкции:\n")
	for _, in := range list {
		fmt.Fprintf(&b, "- #%d %s [%s] entry=%.5f tp=%.5f sl=%.5f lot=%.2f\n",
			in.ID, in.Symbol, strings.ToUpper(string(in.Direction)), in.EntryPrice, in.ExitPrice, in.StopLoss, in.LotSize)
	}
	t.Send(b.String())
}

func (t *Telegram) handleCloseAll(ctx context.Context, desk Desk) {
	n := len(desk.ActiveTrades())
	if n == 0 {
		t.Send("📭 Закрывать нечего")
		return
	}
	if !t.Confirm(ctx, fmt.Sprintf("Закрыть все сделки (%d)?", n), confirmTimeout) {
		return
	}
	closed := desk.CloseAllTrades(ctx)
	t.Sendf("🔒 Закрыто сделок: %d из %d", closed, n)
}

func (t *Telegram) handleCommand(ctx context.Context, desk Desk, cmd string) {
	switch cmd {
	case "trades":
		t.handleTrades(desk)
	case "instructions":
		t.handleInstructions(desk)
	case "closeall":
		t.handleCloseAll(ctx, desk)
	}
}

// Start: long-polling для messages + callback_query.
func (t *Telegram) Start(ctx context.Context, desk Desk) error {
	if t == nil || t.api == nil {
		return nil
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "callback_query"}

	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	updates := t.api.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				if upd.CallbackQuery != nil {
					t.HandleCallback(upd.CallbackQuery)
				}
				if upd.Message != nil && upd.Message.Chat != nil &&
					upd.Message.Chat.ID == t.chatID && upd.Message.IsCommand() {
					go t.handleCommand(ctx, desk, upd.Message.Command())
				}
			}
		}
	}()
	return nil
}

func (t *Telegram) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if t.api != nil {
		t.api.StopReceivingUpdates()
	}
}
