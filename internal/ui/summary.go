package ui

import (
	"fmt"
	"time"

	"github.com/BioHazard786/warpmesh/internal/media"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// CallSummary is printed after leaving a call.
type CallSummary struct {
	RoomID       string
	Duration     time.Duration
	Participants int
	Streams      int
	Status       string
}

func newPrettyTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Color.Header = text.Colors{text.Bold, text.FgHiCyan}
	t.Style().Format.Header = text.FormatDefault
	return t
}

// SummaryView renders the post-call summary with go-pretty.
func SummaryView(s CallSummary) string {
	t := newPrettyTable()
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Status", s.Status},
		{"Room", s.RoomID},
		{"Duration", formatDuration(s.Duration)},
		{"Participants seen", s.Participants},
		{"Streams received", s.Streams},
	})
	return t.Render()
}

func RenderSummary(s CallSummary) {
	fmt.Println(SummaryView(s))
}

// DevicesView lists the capture devices a provider exposes.
func DevicesView(provider string, devices []media.DeviceInfo) string {
	t := newPrettyTable()
	t.SetTitle("Capture devices (" + provider + ")")
	t.AppendHeader(table.Row{"Kind", "ID", "Label"})
	for _, d := range devices {
		t.AppendRow(table.Row{d.Kind.String(), d.ID, d.Label})
	}
	if len(devices) == 0 {
		t.AppendFooter(table.Row{"", "", "no devices found"})
	}
	return t.Render()
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
