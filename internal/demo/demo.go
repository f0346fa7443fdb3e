// Package demo is the bundled reference bot. It registers two builders on
// a dispatcher: a per-chat conversation session that runs commands, and a
// per-user stats session that observes the same messages and answers
// inline queries on its own.
package demo

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/flemzord/pelican/internal/route"
	"github.com/flemzord/pelican/internal/schedule"
	"github.com/flemzord/pelican/internal/session"
	"github.com/flemzord/pelican/pkg/update"
)

const (
	echoToggle      = "echo:toggle"
	maxReminder     = 24 * time.Hour
	statsTimeout    = 24 * time.Hour
	heartbeatSpec   = "*/5 * * * *"
	tooManySessions = "Too many active conversations right now, please try again later."
)

// Host is the part of the dispatcher the bot needs.
type Host interface {
	Register(b *session.Builder) (string, error)
	Schedule() *schedule.Schedule
	Enqueue(method string, params map[string]any, done session.Completion)
}

// Config tunes the bot.
type Config struct {
	// MaxSessions caps concurrent conversations. Zero means unlimited.
	MaxSessions int
	// SessionTimeout closes a conversation after inactivity. Zero disables it.
	SessionTimeout time.Duration
	// FloodHits messages within FloodWindow blacklist the chat.
	FloodHits   int
	FloodWindow time.Duration
	Logger      *slog.Logger
}

// Bot holds the registered builders.
type Bot struct {
	cfg       Config
	host      Host
	logger    *slog.Logger
	chats     *session.Builder
	stats     *session.Builder
	heartbeat *schedule.Recurring
}

type chatState struct {
	Echo     bool
	Messages int
}

type userStats struct {
	Messages      int
	InlineQueries int
}

// Install creates the bot's builders and registers them on host.
func Install(host Host, cfg Config) (*Bot, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	bot := &Bot{cfg: cfg, host: host, logger: cfg.Logger}

	stats, err := session.NewBuilder(session.BuilderConfig{
		Name:      "stats",
		Spawner:   session.PerUser(update.KindMessage, update.KindInlineQuery),
		IDKind:    session.IDUser,
		Init:      bot.initStats,
		Collision: statsCollision,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("demo: stats builder: %w", err)
	}
	chats, err := session.NewBuilder(session.BuilderConfig{
		Name:          "chat",
		Spawner:       session.PerChat(update.KindMessage, update.KindCallbackQuery),
		IDKind:        session.IDChat,
		Init:          bot.initChat,
		MaxSessions:   cfg.MaxSessions,
		OnMaxSessions: bot.rejectChat,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("demo: chat builder: %w", err)
	}

	// Stats registers first so its include runs before the chat session
	// executes and the link is visible to chat routes.
	if _, err := host.Register(stats); err != nil {
		return nil, fmt.Errorf("demo: registering stats: %w", err)
	}
	if _, err := host.Register(chats); err != nil {
		return nil, fmt.Errorf("demo: registering chat: %w", err)
	}
	bot.stats, bot.chats = stats, chats

	bot.heartbeat, err = host.Schedule().AddRecurring("heartbeat", heartbeatSpec, bot.logHeartbeat)
	if err != nil {
		return nil, fmt.Errorf("demo: %w", err)
	}
	return bot, nil
}

// Stop cancels the bot's recurring events.
func (b *Bot) Stop() {
	if b.heartbeat != nil {
		b.heartbeat.Stop()
	}
}

// Commands describes the bot commands for setMyCommands.
func (b *Bot) Commands() []map[string]string {
	return []map[string]string{
		{"command": "start", "description": "Start a conversation"},
		{"command": "help", "description": "Show help"},
		{"command": "remind", "description": "Remind you after N seconds: /remind 30 tea"},
		{"command": "stats", "description": "Show your message count"},
		{"command": "stop", "description": "End the conversation"},
	}
}

func statsCollision(u *update.Update, _ []*session.Builder) session.Collision {
	if u.Kind == update.KindMessage {
		return session.CollisionInclude
	}
	return session.CollisionExecute
}

func (b *Bot) logHeartbeat() {
	b.logger.Info("demo: heartbeat", "chats", b.chats.Len(), "users", b.stats.Len())
}

func (b *Bot) rejectChat(u *update.Update) {
	chatID, ok := u.ChatID()
	if !ok {
		return
	}
	b.host.Enqueue("sendMessage", map[string]any{"chat_id": chatID, "text": tooManySessions}, b.logFailure("sendMessage"))
}

func (b *Bot) initStats(s *session.Session, _ *update.Update) {
	s.Data = &userStats{}
	s.Timeout.Set(nil, statsTimeout, nil)
	s.Routes.Add(route.NewPass("inline-stats", []update.Kind{update.KindInlineQuery}, func(u *update.Update) bool {
		st := s.Data.(*userStats)
		st.InlineQueries++
		text := fmt.Sprintf("I have seen %d messages from you.", st.Messages)
		params := map[string]any{
			"inline_query_id": u.InlineQuery.ID,
			"cache_time":      0,
			"is_personal":     true,
			"results": []map[string]any{{
				"type":                  "article",
				"id":                    "stats",
				"title":                 "Share your stats",
				"input_message_content": map[string]any{"message_text": text},
			}},
		}
		b.send(s, "answerInlineQuery", params)
		return true
	}))
}

func (b *Bot) initChat(s *session.Session, _ *update.Update) {
	s.Data = &chatState{}

	if b.cfg.SessionTimeout > 0 {
		s.Timeout.Set([]update.Kind{update.KindMessage, update.KindCallbackQuery}, b.cfg.SessionTimeout, func() {
			b.reply(s, "Closing this conversation after inactivity. Send /start to begin again.", nil)
		})
	}
	if b.cfg.FloodHits > 0 && b.cfg.FloodWindow > 0 {
		s.Flood.Add([]update.Kind{update.KindMessage}, b.cfg.FloodHits, b.cfg.FloodWindow, func() {
			b.reply(s, "Too many messages. This chat has been blocked.", nil)
			s.Blacklist("flood")
		})
	}

	s.Routes.Add(
		route.NewCommand("start", []string{"start"}, func(*update.Update) bool {
			b.reply(s, "Hello! I echo your messages when echo mode is on.", echoKeyboard(s.Data.(*chatState).Echo))
			return true
		}),
		route.NewCommand("help", []string{"help"}, func(*update.Update) bool {
			b.reply(s, helpText(b.Commands()), nil)
			return true
		}),
		route.NewCommand("stop", []string{"stop", "quit"}, func(*update.Update) bool {
			b.reply(s, "Bye!", nil)
			s.Remove("stop")
			return true
		}),
		route.NewCommand("remind", []string{"remind"}, func(u *update.Update) bool {
			return b.remind(s, u)
		}),
		route.NewCommand("stats", []string{"stats"}, func(u *update.Update) bool {
			b.reply(s, b.statsText(u), nil)
			return true
		}),
		route.NewListen("echo-toggle", update.KindCallbackQuery, echoToggle, func(u *update.Update) bool {
			st := s.Data.(*chatState)
			st.Echo = !st.Echo
			b.send(s, "answerCallbackQuery", map[string]any{
				"callback_query_id": u.CallbackQuery.ID,
				"text":              "Echo " + onOff(st.Echo),
			})
			if m := u.CallbackQuery.Message; m != nil {
				b.send(s, "editMessageText", map[string]any{
					"chat_id":      s.ChatID(),
					"message_id":   m.MessageID,
					"text":         "Echo is " + onOff(st.Echo) + ".",
					"reply_markup": echoKeyboard(st.Echo)["reply_markup"],
				})
			}
			return true
		}),
		route.NewPass("echo", []update.Kind{update.KindMessage}, func(u *update.Update) bool {
			st := s.Data.(*chatState)
			st.Messages++
			b.countMessage(u)
			if !st.Echo || u.Content == "" {
				return false
			}
			b.reply(s, u.Content, nil)
			return true
		}),
	)
}

// countMessage credits the message to the stats session linked to it.
func (b *Bot) countMessage(u *update.Update) {
	for _, l := range u.LinkedTo(b.stats.ID()) {
		if ss := b.stats.Session(l.SessionID()); ss != nil {
			ss.Data.(*userStats).Messages++
		}
	}
}

func (b *Bot) statsText(u *update.Update) string {
	uid, ok := u.UserID()
	if !ok {
		return "I don't know who you are."
	}
	ss := b.stats.Session(uid)
	if ss == nil {
		return "No stats yet."
	}
	st := ss.Data.(*userStats)
	return fmt.Sprintf("Messages: %d\nInline queries: %d\nSince: %s",
		st.Messages, st.InlineQueries, ss.StartedAt.UTC().Format(time.RFC3339))
}

func (b *Bot) remind(s *session.Session, u *update.Update) bool {
	fields := strings.Fields(u.Content)
	if len(fields) < 3 {
		b.reply(s, "Usage: /remind <seconds> <text>", nil)
		return true
	}
	secs, err := strconv.Atoi(fields[1])
	if err != nil || secs <= 0 || time.Duration(secs)*time.Second > maxReminder {
		b.reply(s, "Seconds must be a positive number up to one day.", nil)
		return true
	}
	text := strings.Join(fields[2:], " ")
	s.Delay(func() { b.reply(s, "Reminder: "+text, nil) }, schedule.Seconds(secs))
	b.reply(s, fmt.Sprintf("OK, I will remind you in %ds.", secs), nil)
	return true
}

func (b *Bot) reply(s *session.Session, text string, extra map[string]any) {
	params := map[string]any{"chat_id": s.ChatID(), "text": text}
	for k, v := range extra {
		params[k] = v
	}
	b.send(s, "sendMessage", params)
}

func (b *Bot) send(s *session.Session, method string, params map[string]any) {
	if err := s.SendAsync(method, params, b.logFailure(method)); err != nil {
		s.Logger().Warn("demo: send skipped", "method", method, "error", err)
	}
}

func (b *Bot) logFailure(method string) session.Completion {
	return func(_ json.RawMessage, err error) {
		if err != nil {
			b.logger.Warn("demo: request failed", "method", method, "error", err)
		}
	}
}

func echoKeyboard(on bool) map[string]any {
	label := "Turn echo on"
	if on {
		label = "Turn echo off"
	}
	return map[string]any{
		"reply_markup": map[string]any{
			"inline_keyboard": [][]map[string]string{{{"text": label, "callback_data": echoToggle}}},
		},
	}
}

func helpText(cmds []map[string]string) string {
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, c := range cmds {
		fmt.Fprintf(&sb, "/%s - %s\n", c["command"], c["description"])
	}
	return sb.String()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
