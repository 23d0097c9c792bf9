package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/google/uuid"

	"github.com/onnwee/obs-relay/control"
	"github.com/onnwee/obs-relay/telemetry"
)

// maxMessageLen is Twitch's per-message limit.
const maxMessageLen = 500

// DefaultBadges may run commands when none are configured.
var DefaultBadges = []string{"broadcaster", "moderator"}

// Executor runs a named command.
type Executor interface {
	Execute(ctx context.Context, name string, args []string, progress func(string)) control.Reply
}

// Sayer posts a message to a channel. *twitch.Client satisfies it.
type Sayer interface {
	Say(channel, text string)
}

// Config holds the IRC identity and command policy.
type Config struct {
	Channel       string
	Username      string
	OAuthToken    string
	Prefix        string
	AllowedBadges []string
	// CommandTimeout bounds one command, upload included.
	CommandTimeout time.Duration
	// Notices, if set, are posted to the channel as they arrive.
	Notices <-chan string
}

// Bot dispatches chat commands.
type Bot struct {
	cfg  Config
	exec Executor
	say  Sayer
	wg   sync.WaitGroup
}

// NewBot returns a bot that replies through say.
func NewBot(cfg Config, exec Executor, say Sayer) *Bot {
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	if len(cfg.AllowedBadges) == 0 {
		cfg.AllowedBadges = DefaultBadges
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 15 * time.Minute
	}
	cfg.Channel = strings.ToLower(strings.TrimPrefix(cfg.Channel, "#"))
	return &Bot{cfg: cfg, exec: exec, say: say}
}

// Run connects to Twitch IRC and serves commands until ctx is cancelled.
func Run(ctx context.Context, cfg Config, exec Executor) error {
	if cfg.Channel == "" || cfg.Username == "" || cfg.OAuthToken == "" {
		slog.Info("twitch creds not set; chat front end disabled", slog.String("component", "chat"))
		return nil
	}
	client := twitch.NewClient(cfg.Username, cfg.OAuthToken)
	bot := NewBot(cfg, exec, client)

	client.OnConnect(func() {
		slog.Info("twitch chat connected", slog.String("channel", bot.cfg.Channel), slog.String("component", "chat"))
	})
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		bot.Handle(ctx, msg)
	})

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = client.Disconnect()
				return
			case <-done:
				return
			case text := <-cfg.Notices:
				bot.Announce(text)
			}
		}
	}()

	client.Join(bot.cfg.Channel)
	err := client.Connect()
	close(done)
	bot.Wait()
	if errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return err
}

// Wait blocks until every dispatched command finished.
func (b *Bot) Wait() { b.wg.Wait() }

// Announce posts a notice to the channel.
func (b *Bot) Announce(text string) {
	b.say.Say(b.cfg.Channel, clip(text))
}

// Handle inspects one chat message and dispatches it when it is an
// authorized command. It returns immediately.
func (b *Bot) Handle(ctx context.Context, msg twitch.PrivateMessage) {
	if !strings.EqualFold(strings.TrimPrefix(msg.Channel, "#"), b.cfg.Channel) {
		return
	}
	name, args, ok := Parse(b.cfg.Prefix, msg.Message)
	if !ok || !control.Known(name) {
		return
	}
	logger := slog.With(slog.String("command", name), slog.String("user", msg.User.Name), slog.String("component", "chat"))
	if !Authorized(msg.User, b.cfg.AllowedBadges) {
		logger.Info("ignoring command from unauthorized user")
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		cctx, cancel := context.WithTimeout(telemetry.WithCorrelation(ctx, uuid.NewString()), b.cfg.CommandTimeout)
		defer cancel()
		logger.Info("running chat command", slog.String("corr", telemetry.GetCorrelation(cctx)))
		reply := b.exec.Execute(cctx, name, args, func(m string) { b.reply(msg.User, m) })
		b.reply(msg.User, Render(reply))
	}()
}

func (b *Bot) reply(user twitch.User, text string) {
	if text == "" {
		return
	}
	who := user.DisplayName
	if who == "" {
		who = user.Name
	}
	b.say.Say(b.cfg.Channel, clip("@"+who+" "+text))
}

// Parse splits "!name arg..." into the lower-cased name and its args.
func Parse(prefix, text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// Authorized reports whether user carries one of the allowed badges.
func Authorized(user twitch.User, allowed []string) bool {
	for _, badge := range allowed {
		if n, ok := user.Badges[strings.ToLower(strings.TrimSpace(badge))]; ok && n > 0 {
			return true
		}
	}
	return false
}

// Render flattens a reply to one chat line.
func Render(r control.Reply) string {
	text := r.Text
	if r.Card != nil {
		text = r.Card.Line()
	}
	return strings.Join(strings.Fields(text), " ")
}

func clip(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	cut := maxMessageLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
