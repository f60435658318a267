// Package notify delivers human-readable alerts. Delivery is best effort:
// callers never see a failure and never wait on the network.
package notify

import (
	"context"
	"sync"
	"sync/atomic"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier sends one alert.
type Notifier interface {
	Notify(ctx context.Context, msg string)
}

// Log writes alerts to the logger. Used when Telegram is not configured.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log}
}

func (l *Log) Notify(_ context.Context, msg string) {
	l.log.Info("notification", zap.String("message", msg))
}

// Nop drops every alert.
type Nop struct{}

func (Nop) Notify(context.Context, string) {}

type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Telegram sends HTML messages to one chat from a background goroutine.
// When the queue is full the alert is dropped.
type Telegram struct {
	bot    sender
	chatID int64
	log    *zap.Logger

	queue   chan string
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

// NewTelegram connects the bot and starts the sender.
func NewTelegram(token string, chatID int64, queueSize int, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newTelegram(b, chatID, queueSize, log), nil
}

func newTelegram(bot sender, chatID int64, queueSize int, log *zap.Logger) *Telegram {
	if log == nil {
		log = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	t := &Telegram{
		bot:    bot,
		chatID: chatID,
		log:    log,
		queue:  make(chan string, queueSize),
		done:   make(chan struct{}),
	}
	t.wg.Add(1)
	go t.loop()
	return t
}

// Notify queues msg without blocking.
func (t *Telegram) Notify(_ context.Context, msg string) {
	select {
	case <-t.done:
		return
	default:
	}
	select {
	case t.queue <- msg:
	default:
		t.dropped.Add(1)
		t.log.Warn("notification queue full, dropping message")
	}
}

// Dropped reports how many alerts were discarded.
func (t *Telegram) Dropped() uint64 { return t.dropped.Load() }

func (t *Telegram) loop() {
	defer t.wg.Done()
	for {
		select {
		case msg := <-t.queue:
			t.send(msg)
		case <-t.done:
			for {
				select {
				case msg := <-t.queue:
					t.send(msg)
				default:
					return
				}
			}
		}
	}
}

func (t *Telegram) send(msg string) {
	m := tgbot.NewMessage(t.chatID, msg)
	m.ParseMode = tgbot.ModeHTML
	m.DisableWebPagePreview = true
	if _, err := t.bot.Send(m); err != nil {
		t.log.Warn("telegram send failed", zap.Error(err))
	}
}

// Close drains queued alerts and stops the sender.
func (t *Telegram) Close() {
	t.once.Do(func() { close(t.done) })
	t.wg.Wait()
}
