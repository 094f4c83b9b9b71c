package ui

import (
	"fmt"

	"github.com/BioHazard786/warpmesh/internal/peer"
	"github.com/BioHazard786/warpmesh/internal/room"
	"github.com/BioHazard786/warpmesh/internal/stream"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pion/webrtc/v4"
)

// RosterRow is one remote participant as the call view shows it.
type RosterRow struct {
	ID        string
	Name      string
	State     string
	Streaming bool
	Audio     bool
	Video     bool
	Packets   uint64
}

// BuildRoster joins the roster with session states and bound streams.
// Participants without a session show as closed.
func BuildRoster(participants []room.Participant, states map[string]peer.State, streamOf func(string) *stream.RemoteStream) []RosterRow {
	rows := make([]RosterRow, 0, len(participants))
	for _, p := range participants {
		row := RosterRow{ID: p.ID, Name: p.Name, State: peer.StateClosed.String()}
		if st, ok := states[p.ID]; ok {
			row.State = st.String()
		}
		if s := streamOf(p.ID); s != nil && !s.Ended() {
			row.Streaming = true
			if t := s.Track(webrtc.RTPCodecTypeAudio); t != nil {
				row.Audio = t.Enabled()
				row.Packets += t.Packets()
			}
			if t := s.Track(webrtc.RTPCodecTypeVideo); t != nil {
				row.Video = t.Enabled()
				row.Packets += t.Packets()
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// RosterView renders the roster with lipgloss/table.
func RosterView(rows []RosterRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render(IconWaiting + " Nobody else is here yet")
	}

	var data [][]string
	for _, r := range rows {
		name := r.Name
		if name == "" {
			name = MutedStyle.Render("(unnamed)")
		}
		mic, cam := "-", "-"
		if r.Streaming {
			mic = toggleIcon(r.Audio, IconMic, IconMicOff)
			cam = toggleIcon(r.Video, IconCamera, IconCamOff)
		}
		data = append(data, []string{
			truncateString(name, 24),
			shortID(r.ID),
			stateStyle(r.State).Render(r.State),
			mic,
			cam,
			fmt.Sprintf("%d", r.Packets),
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Name", "ID", "Session", "Mic", "Cam", "Packets").
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		}).
		Render()
}

func toggleIcon(on bool, yes, no string) string {
	if on {
		return yes
	}
	return no
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
