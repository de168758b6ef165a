package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"feedbot/internal/dispense"
	"feedbot/internal/feeding"
	"feedbot/internal/feedratio"
)

var stdout io.Writer = os.Stdout

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(stdout, string(data))
	return err
}

func printResult(r dispense.Result) error {
	if jsonOutput {
		return printJSON(r)
	}
	if r.OK() {
		fmt.Fprintf(stdout, "dispensed %d g (record %s)\n", r.AmountGrams, r.RecordID)
		return nil
	}
	fmt.Fprintf(stdout, "dispense of %d g failed: %s (record %s)\n", r.AmountGrams, r.Error, r.RecordID)
	return nil
}

func printSchedule(s feeding.Schedule) error {
	if jsonOutput {
		return printJSON(s)
	}
	return printSchedules([]feeding.Schedule{s})
}

func printSchedules(list []feeding.Schedule) error {
	if jsonOutput {
		return printJSON(list)
	}
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tGRAMS\tACTIVE\tOWNER\tNAME")
	for _, s := range list {
		fmt.Fprintf(w, "%d\t%s\t%d\t%t\t%d\t%s\n", s.ID, s.At, s.AmountGrams, s.Active, s.OwnerID, s.Name)
	}
	return w.Flush()
}

func printRecords(list []feeding.DispenseRecord, loc *time.Location) error {
	if jsonOutput {
		return printJSON(list)
	}
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tGRAMS\tTRIGGER\tSCHEDULE\tOUTCOME\tERROR")
	for _, r := range list {
		sched := "-"
		if r.ScheduleID != nil {
			sched = strconv.FormatInt(*r.ScheduleID, 10)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			r.Timestamp.In(loc).Format("2006-01-02 15:04:05"), r.AmountGrams, r.Trigger, sched, r.Outcome, r.Error)
	}
	return w.Flush()
}

func printConversion(c feedratio.Conversion) error {
	if jsonOutput {
		return printJSON(c)
	}
	g := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	fmt.Fprintf(stdout, "%d pellets = %s g (ratio %d pellets = %s g)\n", c.PelletCount, g(c.Grams), c.Ratio.Pellets, g(c.Ratio.Grams))
	if !c.Found() {
		fmt.Fprintln(stdout, "no more feedings scheduled today")
		return nil
	}
	fmt.Fprintf(stdout, "next feeding #%d at %s: %s g, remaining %s g\n", *c.ScheduleID, *c.At, g(*c.Scheduled), g(*c.Remaining.Remaining))
	return nil
}
