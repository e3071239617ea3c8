// Package telegram adapts the bot to the Telegram Bot API via telebot.
// Commands and role buttons come in, rendered rosters go out; all raid
// logic stays behind the raidsvc facade.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"raidbot/internal/notifier"
	"raidbot/internal/raidsvc"
	"raidbot/internal/roster"
	"raidbot/internal/storage"
	logx "raidbot/pkg/logx"
	"raidbot/pkg/token"
)

type Config struct {
	Token       string
	AdminIDs    []int64
	PollTimeout time.Duration
	// DefaultOffsets are the reminder minutes for new raids, default 60/15.
	DefaultOffsets []int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot   *tele.Bot
	svc   *raidsvc.Service
	store storage.Store

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Usernames seen in updates, for mentions in rendered rosters.
	nameMu sync.RWMutex
	names  map[int64]string

	render *notifier.Renderer
}

func New(cfg Config, svc *raidsvc.Service, store storage.Store, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if len(cfg.DefaultOffsets) == 0 {
		cfg.DefaultOffsets = []int{60, 15}
	}
	a := &Adapter{
		cfg:   cfg,
		log:   log,
		bot:   b,
		svc:   svc,
		store: store,
		names: map[int64]string{},
	}
	a.render = notifier.NewRenderer(a.Mention)
	a.registerHandlers()
	return a, nil
}

// SendText implements transport.Sender.
func (a *Adapter) SendText(_ context.Context, chatID int64, text string) (int, error) {
	msg, err := a.bot.Send(&tele.Chat{ID: chatID}, text)
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

// EditText implements transport.Sender.
func (a *Adapter) EditText(_ context.Context, chatID int64, messageID int, text string) error {
	m := &tele.Message{ID: messageID, Chat: &tele.Chat{ID: chatID}}
	_, err := a.bot.Edit(m, text)
	return err
}

// Mention implements transport.Mentioner using usernames observed in
// updates; unknown users get a plain fallback.
func (a *Adapter) Mention(userID int64) string {
	a.nameMu.RLock()
	name, ok := a.names[userID]
	a.nameMu.RUnlock()
	if ok {
		return "@" + name
	}
	return "user " + itoa(userID)
}

func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	a.runMu.Unlock()

	go func() {
		defer a.wg.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop
	}()
	return nil
}

// Stop ends polling but never blocks shutdown on a hanging long-poll.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.cancel
	a.cancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()
	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(grace):
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle("/raid", a.guarded(a.handleNewRaid))
	a.bot.Handle("/raids", a.handleListRaids)
	a.bot.Handle("/cancelraid", a.guarded(a.handleCancelRaid))
	a.bot.Handle("/moveraid", a.guarded(a.handleMoveRaid))
	a.bot.Handle("/cap", a.guarded(a.handleCapacity))
	a.bot.Handle("/template", a.guarded(a.handleTemplate))
	a.bot.Handle("/attendance", a.handleAttendance)
	a.bot.Handle(tele.OnCallback, a.handleCallback)
}

// guarded restricts a handler to configured admins. An empty admin list
// admits everyone.
func (a *Adapter) guarded(h tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if len(a.cfg.AdminIDs) > 0 && c.Sender() != nil {
			allowed := false
			for _, id := range a.cfg.AdminIDs {
				if id == c.Sender().ID {
					allowed = true
					break
				}
			}
			if !allowed {
				return c.Reply("not allowed")
			}
		}
		return h(c)
	}
}

func (a *Adapter) rememberSender(c tele.Context) {
	s := c.Sender()
	if s == nil || s.Username == "" {
		return
	}
	a.nameMu.Lock()
	a.names[s.ID] = s.Username
	a.nameMu.Unlock()
}

// handleNewRaid creates a raid from
// "/raid name | 02.01 19:00 | tank:2,heal:2,dps:6 | comment".
// The third field may instead be "tpl:<template>" to expand a preset.
func (a *Adapter) handleNewRaid(c tele.Context) error {
	a.rememberSender(c)
	ctx := context.Background()

	args, err := splitFields(c.Message().Payload, 3)
	if err != nil {
		return c.Reply("usage: /raid name | 02.01 19:00 | tank:2,dps:6 [| comment]")
	}
	startsAt, err := parseWhen(args[1], time.Now())
	if err != nil {
		return c.Reply(err.Error())
	}

	var raid storage.Raid
	if tpl, ok := strings.CutPrefix(args[2], "tpl:"); ok {
		raid, err = a.svc.CreateFromTemplate(ctx, c.Chat().ID, strings.TrimSpace(tpl), args[0], startsAt, c.Sender().ID)
	} else {
		roles, perr := parseRoles(args[2])
		if perr != nil {
			return c.Reply(perr.Error())
		}
		comment := ""
		if len(args) > 3 {
			comment = args[3]
		}
		raid, err = a.svc.CreateRaid(ctx, raidsvc.CreateRaidParams{
			ChatID:          c.Chat().ID,
			Name:            args[0],
			StartsAt:        startsAt,
			Comment:         comment,
			Roles:           roles,
			ReminderOffsets: a.cfg.DefaultOffsets,
			CreatedBy:       c.Sender().ID,
		})
	}
	if err != nil {
		return c.Reply("cannot create raid: " + err.Error())
	}
	return a.postAnnouncement(ctx, c, raid.ID)
}

// postAnnouncement sends the roster message with role buttons and records
// its id so later roster changes edit it in place.
func (a *Adapter) postAnnouncement(ctx context.Context, c tele.Context, raidID int64) error {
	view, err := a.svc.Snapshot(ctx, raidID)
	if err != nil {
		return err
	}
	msg, err := a.bot.Send(c.Chat(), a.render.Roster(view), a.keyboard(view))
	if err != nil {
		return err
	}
	return a.store.SetRaidMessage(ctx, raidID, msg.ID)
}

// keyboard builds one signup button per role plus a leave button.
func (a *Adapter) keyboard(view raidsvc.RosterView) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	var row []tele.Btn
	for _, role := range view.Roles {
		row = append(row, rm.Data(role.Name, "join", token.Encode(view.Raid.ID, token.ActionSignup, role.Name)))
	}
	leave := rm.Row(rm.Data("leave", "leave", token.Encode(view.Raid.ID, token.ActionLeave, "")))
	rm.Inline(rm.Row(row...), leave)
	return rm
}

func (a *Adapter) handleCallback(c tele.Context) error {
	a.rememberSender(c)
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	data := strings.TrimSpace(cb.Data)
	// telebot prefixes Data-button callbacks with "\f<unique>|".
	if i := strings.LastIndexByte(data, '|'); i >= 0 {
		data = data[i+1:]
	}
	if !token.Is(data) {
		return c.Respond(&tele.CallbackResponse{Text: "stale button"})
	}

	ctx := context.Background()
	out, err := a.svc.ResolveToken(ctx, cb.Sender.ID, data)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: callbackError(err)})
	}

	// Refresh the announcement the button lives on.
	if view, verr := a.svc.Snapshot(ctx, out.Raid.ID); verr == nil {
		_, _ = a.bot.Edit(c.Message(), a.render.Roster(view), a.keyboard(view))
	}

	switch out.Action {
	case token.ActionSignup:
		if out.Signup.State == storage.EntryConfirmed {
			return c.Respond(&tele.CallbackResponse{Text: "you are in"})
		}
		return c.Respond(&tele.CallbackResponse{Text: "role is full, you are on the waitlist"})
	default:
		return c.Respond(&tele.CallbackResponse{Text: "you are out"})
	}
}

func callbackError(err error) string {
	switch {
	case errors.Is(err, roster.ErrRaidClosed):
		return "signups are closed"
	case errors.Is(err, roster.ErrNotSignedUp):
		return "you are not signed up"
	case errors.Is(err, roster.ErrRoleFull):
		return "that role is full"
	case errors.Is(err, token.ErrMalformed), errors.Is(err, storage.ErrNotFound):
		return "stale button"
	default:
		return "something went wrong, try again"
	}
}

func (a *Adapter) handleListRaids(c tele.Context) error {
	raids, err := a.svc.UpcomingRaids(context.Background(), c.Chat().ID, 10)
	if err != nil {
		return c.Reply("cannot list raids")
	}
	if len(raids) == 0 {
		return c.Reply("no upcoming raids")
	}
	var b strings.Builder
	for _, r := range raids {
		b.WriteString("#")
		b.WriteString(itoa(r.ID))
		b.WriteString(" ")
		b.WriteString(r.Name)
		b.WriteString(" ")
		b.WriteString(r.StartsAt.Format("Mon 02.01 15:04"))
		b.WriteString("\n")
	}
	return c.Reply(strings.TrimRight(b.String(), "\n"))
}

// handleCancelRaid handles "/cancelraid <id>".
func (a *Adapter) handleCancelRaid(c tele.Context) error {
	id, err := parseRaidID(c.Message().Payload)
	if err != nil {
		return c.Reply("usage: /cancelraid <id>")
	}
	if err := a.svc.CancelRaid(context.Background(), id); err != nil {
		return c.Reply("cannot cancel: " + err.Error())
	}
	return c.Reply("raid cancelled")
}

// handleMoveRaid handles "/moveraid <id> | 02.01 20:00".
func (a *Adapter) handleMoveRaid(c tele.Context) error {
	args, err := splitFields(c.Message().Payload, 2)
	if err != nil {
		return c.Reply("usage: /moveraid <id> | 02.01 20:00")
	}
	id, err := parseRaidID(args[0])
	if err != nil {
		return c.Reply("bad raid id")
	}
	newStart, err := parseWhen(args[1], time.Now())
	if err != nil {
		return c.Reply(err.Error())
	}
	if err := a.svc.RescheduleRaid(context.Background(), id, newStart); err != nil {
		return c.Reply("cannot move: " + err.Error())
	}
	return c.Reply("raid moved to " + newStart.Format("Mon 02.01 15:04"))
}

// handleCapacity handles "/cap <id> <role> <n>".
func (a *Adapter) handleCapacity(c tele.Context) error {
	fields := strings.Fields(c.Message().Payload)
	if len(fields) != 3 {
		return c.Reply("usage: /cap <id> <role> <n>")
	}
	id, err := parseRaidID(fields[0])
	if err != nil {
		return c.Reply("bad raid id")
	}
	n, err := parseCount(fields[2])
	if err != nil {
		return c.Reply("bad capacity")
	}
	promoted, demoted, err := a.svc.ChangeCapacity(context.Background(), id, fields[1], n)
	if err != nil {
		return c.Reply("cannot resize: " + err.Error())
	}
	return c.Reply(itoa(int64(len(promoted))) + " promoted, " + itoa(int64(len(demoted))) + " demoted")
}

// handleTemplate handles "/template save name | tank:2,dps:6 [| comment]",
// "/template list" and "/template del name".
func (a *Adapter) handleTemplate(c tele.Context) error {
	ctx := context.Background()
	payload := strings.TrimSpace(c.Message().Payload)
	verb, rest, _ := strings.Cut(payload, " ")
	switch verb {
	case "save":
		args, err := splitFields(rest, 2)
		if err != nil {
			return c.Reply("usage: /template save name | tank:2,dps:6 [| comment]")
		}
		roles, err := parseRoles(args[1])
		if err != nil {
			return c.Reply(err.Error())
		}
		tpl := storage.Template{Name: args[0], Roles: roles, ReminderOffset: a.cfg.DefaultOffsets}
		if len(args) > 2 {
			tpl.Comment = args[2]
		}
		if _, err := a.svc.SaveTemplate(ctx, tpl); err != nil {
			return c.Reply("cannot save template: " + err.Error())
		}
		return c.Reply("template saved")
	case "list":
		tpls, err := a.svc.Templates(ctx)
		if err != nil || len(tpls) == 0 {
			return c.Reply("no templates")
		}
		names := make([]string, 0, len(tpls))
		for _, t := range tpls {
			names = append(names, t.Name)
		}
		return c.Reply(strings.Join(names, "\n"))
	case "del":
		ok, err := a.svc.DeleteTemplate(ctx, strings.TrimSpace(rest))
		if err != nil || !ok {
			return c.Reply("no such template")
		}
		return c.Reply("template deleted")
	default:
		return c.Reply("usage: /template save|list|del")
	}
}

// handleAttendance handles "/attendance" for the sender's own history.
func (a *Adapter) handleAttendance(c tele.Context) error {
	a.rememberSender(c)
	recs, err := a.svc.AttendanceHistory(context.Background(), c.Sender().ID, 10)
	if err != nil || len(recs) == 0 {
		return c.Reply("no attendance history")
	}
	var b strings.Builder
	for _, r := range recs {
		b.WriteString("raid #")
		b.WriteString(itoa(r.RaidID))
		b.WriteString(": ")
		b.WriteString(string(r.Status))
		if r.Role != "" {
			b.WriteString(" (" + r.Role + ")")
		}
		b.WriteString("\n")
	}
	return c.Reply(strings.TrimRight(b.String(), "\n"))
}
