package router

import (
	"fmt"
	"strconv"
	"time"

	"feedbot/internal/dispense"
	"feedbot/internal/feeding"
	"feedbot/internal/feedratio"
	"feedbot/internal/task/scheduler"
	"feedbot/pkg/tgui"
)

func formatResult(r dispense.Result) string {
	if r.OK() {
		return fmt.Sprintf("✅ Dispensed %d g.", r.AmountGrams)
	}
	return fmt.Sprintf("❌ Dispense of %d g failed: %s", r.AmountGrams, tgui.Esc(r.Error))
}

func formatSchedule(s feeding.Schedule, withOwner bool) tgui.H {
	state := "on"
	if !s.Active {
		state = "off"
	}
	rest := fmt.Sprintf(" %s · %d g · %s", s.At, s.AmountGrams, state)
	if withOwner {
		rest += " · user " + strconv.FormatInt(s.OwnerID, 10)
	}
	return tgui.Code("#"+strconv.FormatInt(s.ID, 10)) + " " + tgui.B(s.Name) + tgui.Esc(rest)
}

func formatStats(s feeding.Stats) string {
	return fmt.Sprintf("%d g (%d ok, %d failed)", s.TotalGrams, s.SuccessCount, s.FailureCount)
}

// formatRecord is plain text; the card escapes it.
func formatRecord(r feeding.DispenseRecord, loc *time.Location) string {
	mark := "✅"
	if r.Outcome != feeding.OutcomeSuccess {
		mark = "❌"
	}
	out := fmt.Sprintf("%s %s %d g %s", r.Timestamp.In(loc).Format("01-02 15:04"), mark, r.AmountGrams, r.Trigger)
	if r.ScheduleID != nil {
		out += fmt.Sprintf(" #%d", *r.ScheduleID)
	}
	if r.Error != "" {
		out += ": " + r.Error
	}
	return out
}

func formatRatio(r feeding.FeedRatio) string {
	return fmt.Sprintf("%d pellets = %s g", r.Pellets, strconv.FormatFloat(r.Grams, 'f', -1, 64))
}

func formatGrams(g float64) string {
	return strconv.FormatFloat(g, 'f', -1, 64) + " g"
}

func formatConversion(c feedratio.Conversion) string {
	card := tgui.NewCard("🥣", fmt.Sprintf("%d pellets ≈ %s", c.PelletCount, formatGrams(c.Grams))).
		KV("Ratio", formatRatio(c.Ratio))
	if !c.Found() {
		return card.Line("No more feedings scheduled today.").String()
	}
	next := "Next feeding"
	if c.ScheduleID != nil && c.At != nil {
		next = fmt.Sprintf("Next feeding #%d at %s", *c.ScheduleID, *c.At)
	}
	card.KV(next, formatGrams(*c.Scheduled))
	switch rem := *c.Remaining.Remaining; {
	case rem > 0:
		card.KV("Still to give", formatGrams(rem))
	case rem < 0:
		card.KV("Over by", formatGrams(-rem))
	default:
		card.Line("Exactly on target.")
	}
	return card.String()
}

func formatSnapshot(s scheduler.Snapshot, loc *time.Location) string {
	state := "stopped"
	switch {
	case !s.Enabled:
		state = "disabled"
	case s.Running:
		state = "running"
	}
	card := tgui.NewCard("⏱", fmt.Sprintf("Timers (%s, %s)", state, s.Timezone))
	if len(s.Jobs) == 0 {
		card.Line("No feeding timers.")
	}
	for _, j := range s.Jobs {
		card.HTML(tgui.Code(scheduler.JobName(j.ScheduleID)) + tgui.Esc(fmt.Sprintf(" %s next %s", j.At, formatWhen(j.Next, loc))))
	}
	for _, iv := range s.Intervals {
		card.HTML(tgui.Code(iv.Name) + tgui.Esc(fmt.Sprintf(" every %s next %s", iv.Every, formatWhen(iv.Next, loc))))
	}
	return card.String()
}

func formatWhen(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format("01-02 15:04")
}
