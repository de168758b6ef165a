package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"feedbot/internal/dispense"
	"feedbot/internal/feeder"
	"feedbot/internal/feeding"
	"feedbot/internal/feedratio"
	"feedbot/internal/pellet"
	"feedbot/internal/task/scheduler"
	kit "feedbot/internal/transport"
	"feedbot/pkg/tgui"
)

const logsPerPage = 10

// Feeder is the part of the feeder service the bot exposes.
type Feeder interface {
	ManualDispense(ctx context.Context, amountGrams int, userID int64) (dispense.Result, error)
	CreateSchedule(ctx context.Context, in feeding.NewSchedule) (feeding.Schedule, error)
	EditSchedule(ctx context.Context, id, requesterID int64, edit feeding.ScheduleEdit) (feeding.Schedule, error)
	ToggleSchedule(ctx context.Context, id, requesterID int64) (feeding.Schedule, error)
	DeleteSchedule(ctx context.Context, id, requesterID int64) (feeding.Schedule, error)
	ListSchedulesForOwner(ctx context.Context, ownerID int64) ([]feeding.Schedule, error)
	ListAllSchedules(ctx context.Context) ([]feeding.Schedule, error)
	Dashboard(ctx context.Context) (feeder.Dashboard, error)
	RecentLogs(ctx context.Context, page, perPage int) ([]feeding.DispenseRecord, error)
	ConvertPelletsToGrams(ctx context.Context, pelletCount int, userID int64) (feedratio.Conversion, error)
	CountAndConvert(ctx context.Context, image io.Reader, filename string, userID int64) (feedratio.Conversion, error)
	FeedRatio(ctx context.Context) (feeding.FeedRatio, error)
	SetFeedRatio(ctx context.Context, actorID int64, r feeding.FeedRatio) (feeding.FeedRatio, error)
}

// Timers exposes the timer table for /jobs and next-run hints.
type Timers interface {
	Snapshot() scheduler.Snapshot
	NextRun(scheduleID int64, from time.Time) (time.Time, bool)
}

type Handlers struct {
	feeder Feeder
	timers Timers
	files  kit.FileDownloader
	loc    func() *time.Location
	now    func() time.Time
}

// NewHandlers builds the feedbot command set. timers and files may be nil;
// /jobs and photo counting then report that they are unavailable.
func NewHandlers(f Feeder, timers Timers, files kit.FileDownloader, loc func() *time.Location) *Handlers {
	if loc == nil {
		loc = func() *time.Location { return time.Local }
	}
	return &Handlers{feeder: f, timers: timers, files: files, loc: loc, now: time.Now}
}

func (h *Handlers) Commands() []Command {
	return []Command{
		{Route: "start", Description: "introduction", Access: AccessEveryone, Handle: h.start},
		{Route: "feed", Description: "dispense food now", Usage: "/feed <grams>", Access: AccessUser, Handle: h.feed},
		{Route: "schedule list", Aliases: []string{"schedules"}, Description: "list your feeding schedules", Usage: "/schedule list [--all]", Access: AccessUser, Switches: []string{"all"}, Handle: h.scheduleList},
		{Route: "schedule add", Description: "add a daily feeding", Usage: `/schedule add <name> <HH:MM> <grams>`, Access: AccessUser, Handle: h.scheduleAdd},
		{Route: "schedule edit", Description: "change a feeding", Usage: "/schedule edit <id> [--name N] [--time HH:MM] [--grams G]", Access: AccessUser, Handle: h.scheduleEdit},
		{Route: "schedule toggle", Description: "switch a feeding on or off", Usage: "/schedule toggle <id>", Access: AccessUser, Handle: h.scheduleToggle},
		{Route: "schedule delete", Description: "delete a feeding", Usage: "/schedule delete <id>", Access: AccessUser, Handle: h.scheduleDelete},
		{Route: "stats", Description: "today and last 7 days", Access: AccessUser, Handle: h.stats},
		{Route: "logs", Description: "recent dispense log", Usage: "/logs [page]", Access: AccessUser, Handle: h.logs},
		{Route: "ratio", Description: "show the pellet ratio", Access: AccessUser, Handle: h.ratio},
		{Route: "ratio set", Description: "change the pellet ratio", Usage: "/ratio set <pellets> <grams>", Access: AccessAdmin, Handle: h.ratioSet},
		{Route: "pellets", Description: "convert pellets to grams (or send a photo)", Usage: "/pellets <count>", Access: AccessUser, Timeout: time.Minute, Handle: h.pellets},
		{Route: "jobs", Description: "timer table", Access: AccessAdmin, Handle: h.jobs},
	}
}

func (h *Handlers) start(ctx context.Context, req *Request) error {
	card := tgui.NewCard("🐟", "feedbot").
		Line("Schedule daily feedings, dispense on demand and check what was fed.").
		Line("").
		HTML(tgui.Join(" ", "Try", tgui.Code("/feed 40")+",", tgui.Code("/schedule add breakfast 08:00 40"), "or", tgui.Code("/stats")+".")).
		Hint("Everything else", "/help")
	return req.Reply(ctx, card.String())
}

func (h *Handlers) feed(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, usage("/feed <grams>"))
	}
	grams, err := parseInt(req.Args[0], "grams")
	if err != nil {
		return h.fail(ctx, req, err)
	}
	res, err := h.feeder.ManualDispense(ctx, grams, req.FromID)
	if err != nil && !errors.Is(err, feeding.ErrPersistence) {
		return h.fail(ctx, req, err)
	}
	msg := formatResult(res)
	if err != nil {
		// the device ran; only the log entry is missing
		msg += "\n⚠️ The dispense could not be recorded."
	}
	if rerr := req.Reply(ctx, msg); rerr != nil {
		return rerr
	}
	return err
}

func (h *Handlers) scheduleList(ctx context.Context, req *Request) error {
	var (
		list []feeding.Schedule
		err  error
	)
	all := req.BoolFlags["all"]
	if all {
		if !req.Admin {
			return req.Reply(ctx, "Only admins can list every schedule.")
		}
		list, err = h.feeder.ListAllSchedules(ctx)
	} else {
		list, err = h.feeder.ListSchedulesForOwner(ctx, req.FromID)
	}
	if err != nil {
		return h.fail(ctx, req, err)
	}
	if len(list) == 0 {
		return req.Reply(ctx, "No schedules yet. Add one with <code>/schedule add breakfast 08:00 40</code>.")
	}
	card := tgui.NewCard("🗓", "Schedules")
	now := h.now()
	for _, s := range list {
		line := formatSchedule(s, all)
		if s.Active && h.timers != nil {
			if next, ok := h.timers.NextRun(s.ID, now); ok {
				line += tgui.Esc(" · next " + next.In(h.loc()).Format("Mon 15:04"))
			}
		}
		card.HTML(line)
	}
	return req.Reply(ctx, card.String())
}

func (h *Handlers) scheduleAdd(ctx context.Context, req *Request) error {
	if len(req.Args) != 3 {
		return req.Reply(ctx, usage(`/schedule add <name> <HH:MM> <grams>`))
	}
	at, err := feeding.ParseTimeOfDay(req.Args[1])
	if err != nil {
		return h.fail(ctx, req, err)
	}
	grams, err := parseInt(req.Args[2], "grams")
	if err != nil {
		return h.fail(ctx, req, err)
	}
	s, err := h.feeder.CreateSchedule(ctx, feeding.NewSchedule{Name: req.Args[0], At: at, AmountGrams: grams, OwnerID: req.FromID})
	if err != nil {
		return h.fail(ctx, req, err)
	}
	return req.Reply(ctx, "✅ Added "+formatSchedule(s, false).String())
}

func (h *Handlers) scheduleEdit(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, usage("/schedule edit <id> [--name N] [--time HH:MM] [--grams G]"))
	}
	id, err := parseID(req.Args[0])
	if err != nil {
		return h.fail(ctx, req, err)
	}
	var edit feeding.ScheduleEdit
	if v, ok := req.Flags["name"]; ok {
		edit.Name = &v
	}
	if v, ok := req.Flags["time"]; ok {
		at, err := feeding.ParseTimeOfDay(v)
		if err != nil {
			return h.fail(ctx, req, err)
		}
		edit.At = &at
	}
	if v, ok := req.Flags["grams"]; ok {
		g, err := parseInt(v, "grams")
		if err != nil {
			return h.fail(ctx, req, err)
		}
		edit.AmountGrams = &g
	}
	if edit.Empty() {
		return req.Reply(ctx, "Nothing to change. Pass --name, --time or --grams.")
	}
	s, err := h.feeder.EditSchedule(ctx, id, req.FromID, edit)
	if err != nil {
		return h.fail(ctx, req, err)
	}
	return req.Reply(ctx, "✏️ Updated "+formatSchedule(s, false).String())
}

func (h *Handlers) scheduleToggle(ctx context.Context, req *Request) error {
	id, err := h.idArg(req, "/schedule toggle <id>")
	if err != nil {
		return h.fail(ctx, req, err)
	}
	s, err := h.feeder.ToggleSchedule(ctx, id, req.FromID)
	if err != nil {
		return h.fail(ctx, req, err)
	}
	state := "⏸ Paused "
	if s.Active {
		state = "▶️ Resumed "
	}
	return req.Reply(ctx, state+formatSchedule(s, false).String())
}

func (h *Handlers) scheduleDelete(ctx context.Context, req *Request) error {
	id, err := h.idArg(req, "/schedule delete <id>")
	if err != nil {
		return h.fail(ctx, req, err)
	}
	s, err := h.feeder.DeleteSchedule(ctx, id, req.FromID)
	if err != nil {
		return h.fail(ctx, req, err)
	}
	return req.Reply(ctx, "🗑 Deleted "+formatSchedule(s, false).String())
}

func (h *Handlers) stats(ctx context.Context, req *Request) error {
	d, err := h.feeder.Dashboard(ctx)
	if err != nil {
		return h.fail(ctx, req, err)
	}
	card := tgui.NewCard("📊", "Feeding stats").
		KV("Today", formatStats(d.Today)).
		KV("Last 7 days", formatStats(d.Week)).
		KV("Active schedules", strconv.Itoa(len(d.Active)))
	if next, ok := nextActive(d.Active, feeding.TimeOfDayOf(h.now().In(h.loc()))); ok {
		card.KV("Next", fmt.Sprintf("%s at %s (%d g)", next.Name, next.At, next.AmountGrams))
	}
	return req.Reply(ctx, card.String())
}

func (h *Handlers) logs(ctx context.Context, req *Request) error {
	page := 1
	if len(req.Args) > 0 {
		p, err := strconv.Atoi(req.Args[0])
		if err != nil || p < 1 {
			return req.Reply(ctx, usage("/logs [page]"))
		}
		page = p
	}
	recs, err := h.feeder.RecentLogs(ctx, page, logsPerPage)
	if err != nil {
		return h.fail(ctx, req, err)
	}
	if len(recs) == 0 {
		if page == 1 {
			return req.Reply(ctx, "Nothing dispensed yet.")
		}
		return req.Reply(ctx, fmt.Sprintf("No entries on page %d.", page))
	}
	card := tgui.NewCard("📜", fmt.Sprintf("Dispense log (page %d)", page))
	for _, r := range recs {
		card.Line(formatRecord(r, h.loc()))
	}
	if hint, ok := tgui.NextPage("/logs", page, logsPerPage, len(recs)); ok {
		card.Hint("More", hint)
	}
	return req.Reply(ctx, card.String())
}

func (h *Handlers) ratio(ctx context.Context, req *Request) error {
	r, err := h.feeder.FeedRatio(ctx)
	if err != nil {
		return h.fail(ctx, req, err)
	}
	return req.Reply(ctx, "⚖️ "+formatRatio(r))
}

func (h *Handlers) ratioSet(ctx context.Context, req *Request) error {
	if len(req.Args) != 2 {
		return req.Reply(ctx, usage("/ratio set <pellets> <grams>"))
	}
	pellets, err := parseInt(req.Args[0], "pellets")
	if err != nil {
		return h.fail(ctx, req, err)
	}
	grams, err := strconv.ParseFloat(req.Args[1], 64)
	if err != nil {
		return h.fail(ctx, req, &feeding.ValidationError{Field: "grams", Reason: fmt.Sprintf("%q is not a number", req.Args[1])})
	}
	r, err := h.feeder.SetFeedRatio(ctx, req.FromID, feeding.FeedRatio{Pellets: pellets, Grams: grams})
	if err != nil {
		return h.fail(ctx, req, err)
	}
	return req.Reply(ctx, "✅ Ratio set: "+formatRatio(r))
}

func (h *Handlers) pellets(ctx context.Context, req *Request) error {
	var (
		conv feedratio.Conversion
		err  error
	)
	switch photo := req.Photo(); {
	case photo != nil:
		if h.files == nil {
			return req.Reply(ctx, "Photo counting is not available here. Send <code>/pellets &lt;count&gt;</code>.")
		}
		rc, derr := h.files.Download(ctx, photo.FileID)
		if derr != nil {
			return h.fail(ctx, req, fmt.Errorf("download photo: %w", derr))
		}
		conv, err = h.feeder.CountAndConvert(ctx, rc, photo.FileID+".jpg", req.FromID)
		_ = rc.Close()
	case len(req.Args) == 1:
		n, perr := parseInt(req.Args[0], "count")
		if perr != nil {
			return h.fail(ctx, req, perr)
		}
		conv, err = h.feeder.ConvertPelletsToGrams(ctx, n, req.FromID)
	default:
		return req.Reply(ctx, usage("/pellets <count>")+"\nOr send a photo of the bowl.")
	}
	if err != nil {
		return h.fail(ctx, req, err)
	}
	return req.Reply(ctx, formatConversion(conv))
}

func (h *Handlers) jobs(ctx context.Context, req *Request) error {
	if h.timers == nil {
		return req.Reply(ctx, "Timers are not available.")
	}
	return req.Reply(ctx, formatSnapshot(h.timers.Snapshot(), h.loc()))
}

func (h *Handlers) idArg(req *Request, u string) (int64, error) {
	if len(req.Args) != 1 {
		return 0, &feeding.ValidationError{Reason: "usage: " + u}
	}
	return parseID(req.Args[0])
}

// fail replies with a user-facing message. Input problems end the request
// quietly; anything else is returned so it gets logged.
func (h *Handlers) fail(ctx context.Context, req *Request, err error) error {
	msg, quiet := userMessage(err)
	if rerr := req.Reply(ctx, msg); rerr != nil {
		return errors.Join(err, rerr)
	}
	if quiet {
		return nil
	}
	return err
}

func userMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, feeding.ErrUnauthorized):
		return "⛔ You are not allowed to do that.", true
	case errors.Is(err, feeding.ErrNotFound):
		return "❓ Schedule not found.", true
	case errors.Is(err, feeding.ErrValidation):
		return "⚠️ " + tgui.Esc(err.Error()).String(), true
	case errors.Is(err, pellet.ErrNotConfigured):
		return "Pellet counting is not configured.", true
	case errors.Is(err, pellet.ErrEmptyImage), errors.Is(err, pellet.ErrImageTooLarge):
		return "⚠️ " + tgui.Esc(err.Error()).String(), true
	case errors.Is(err, feeding.ErrPersistence):
		return "💾 Storage error, please try again later.", false
	case errors.Is(err, context.DeadlineExceeded):
		return "⌛ Timed out, please try again.", false
	default:
		return "Something went wrong: " + tgui.Esc(err.Error()).String(), false
	}
}

func usage(u string) string {
	return "Usage: " + tgui.Code(u).String()
}

func parseInt(s, field string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(s), "g"))
	if err != nil {
		return 0, &feeding.ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a whole number", s)}
	}
	return n, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(s), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &feeding.ValidationError{Field: "id", Reason: fmt.Sprintf("%q is not a schedule id", s)}
	}
	return id, nil
}

// nextActive is the first active schedule strictly after now, wrapping to
// tomorrow's earliest.
func nextActive(list []feeding.Schedule, now feeding.TimeOfDay) (feeding.Schedule, bool) {
	var (
		next, first feeding.Schedule
		haveNext    bool
		haveFirst   bool
	)
	for _, s := range list {
		if !s.Active {
			continue
		}
		if !haveFirst || s.At.Before(first.At) {
			first, haveFirst = s, true
		}
		if now.Before(s.At) && (!haveNext || s.At.Before(next.At)) {
			next, haveNext = s, true
		}
	}
	if haveNext {
		return next, true
	}
	return first, haveFirst
}
