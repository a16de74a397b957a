package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"SmartTodo/sdk/go/smarttodo"
)

const dateLayout = "2006-01-02"

// parseDue 接受 YYYY-MM-DD 或 RFC3339，返回毫秒时间戳。
func parseDue(raw string, loc *time.Location) (int64, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.ParseInLocation(dateLayout, raw, loc); err == nil {
		return t.UnixMilli(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, fmt.Errorf("无法解析截止日期 %q", raw)
	}
	return t.UnixMilli(), nil
}

func formatDue(due *int64, now time.Time) string {
	if due == nil {
		return "-"
	}
	t := time.UnixMilli(*due)
	return humanize.RelTime(t, now, "ago", "from now")
}

func printTodos(w io.Writer, todos []smarttodo.Todo, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDONE\tTEXT\tCATEGORY\tPRIORITY\tDUE\tTAGS")
	for _, t := range todos {
		done := " "
		if t.Completed {
			done = "x"
		}
		priority := t.Priority
		if priority == "" {
			priority = "-"
		}
		fmt.Fprintf(tw, "%s\t[%s]\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, done, t.Text, t.Category, priority, formatDue(t.DueDate, now), strings.Join(t.Tags, ","))
	}
	return tw.Flush()
}

func printStats(w io.Writer, s smarttodo.Stats) {
	fmt.Fprintf(w, "total: %s  active: %s  completed: %s  overdue: %s  due today: %s\n",
		humanize.Comma(int64(s.Total)),
		humanize.Comma(int64(s.Active)),
		humanize.Comma(int64(s.Completed)),
		humanize.Comma(int64(s.Overdue)),
		humanize.Comma(int64(s.DueToday)),
	)
}

func printCategories(w io.Writer, list []smarttodo.Category) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCOLOR\tICON\tSCOPE")
	for _, c := range list {
		scope := "user"
		if c.Predefined() {
			scope = "predefined"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Color, c.Icon, scope)
	}
	return tw.Flush()
}

func describeEvent(evt smarttodo.Event) string {
	at := time.UnixMilli(evt.OccurredAt)
	if evt.ResourceID == "" {
		return fmt.Sprintf("%s  %s", at.Format(time.TimeOnly), evt.Type)
	}
	return fmt.Sprintf("%s  %s  %s", at.Format(time.TimeOnly), evt.Type, evt.ResourceID)
}
