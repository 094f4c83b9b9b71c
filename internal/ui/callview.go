package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/warpmesh/internal/call"
	"github.com/BioHazard786/warpmesh/internal/media"
	"github.com/BioHazard786/warpmesh/internal/peer"
	"github.com/BioHazard786/warpmesh/internal/room"
	"github.com/BioHazard786/warpmesh/internal/stream"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pion/webrtc/v4"
)

// Call is the part of a call controller the view drives.
type Call interface {
	Events() <-chan call.Event
	ToggleAudio() (bool, error)
	ToggleVideo() (bool, error)
	Participants() []room.Participant
	SessionStates() map[string]peer.State
	Stream(participantID string) *stream.RemoteStream
	Local() *media.LocalSession
}

// CallStats is what the view observed by the time it quit.
type CallStats struct {
	Participants int
	Streams      int
}

const (
	refreshInterval = 500 * time.Millisecond
	logLines        = 6
)

type eventMsg call.Event

type eventsClosedMsg struct{}

type TickMsg time.Time

type callModel struct {
	call    Call
	roomID  string
	spinner spinner.Model

	roster []RosterRow
	log    []string
	status string

	audio bool
	video bool

	seen    map[string]bool
	streams int

	quitting bool
}

func newCallModel(c Call, roomID string) *callModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	m := &callModel{
		call:    c,
		roomID:  roomID,
		spinner: s,
		seen:    make(map[string]bool),
	}
	if local := c.Local(); local != nil {
		m.audio = local.Enabled(webrtc.RTPCodecTypeAudio)
		m.video = local.Enabled(webrtc.RTPCodecTypeVideo)
	}
	return m
}

func (m *callModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m *callModel) listen() tea.Cmd {
	events := m.call.Events()
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(e)
	}
}

func (m *callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "a":
			enabled, err := m.call.ToggleAudio()
			if m.toggled("Microphone", enabled, err) {
				m.audio = enabled
			}
		case "v":
			enabled, err := m.call.ToggleVideo()
			if m.toggled("Camera", enabled, err) {
				m.video = enabled
			}
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		m.refresh()
		return m, tick()

	case eventMsg:
		m.observe(call.Event(msg))
		return m, m.listen()

	case eventsClosedMsg:
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *callModel) toggled(what string, enabled bool, err error) bool {
	switch {
	case err != nil:
		m.status = ErrorStyle.Render(err.Error())
		return false
	case enabled:
		m.status = what + " on"
	default:
		m.status = what + " off"
	}
	return true
}

func (m *callModel) refresh() {
	m.roster = BuildRoster(m.call.Participants(), m.call.SessionStates(), m.call.Stream)
}

func (m *callModel) observe(e call.Event) {
	switch e.Kind {
	case call.ParticipantJoined:
		m.seen[e.ParticipantID] = true
	case call.RemoteStreamReady:
		m.streams++
	}
	m.log = append(m.log, fmt.Sprintf("%s %s", MutedStyle.Render(e.At.Format("15:04:05")), describe(e)))
	if len(m.log) > logLines {
		m.log = m.log[len(m.log)-logLines:]
	}
	m.refresh()
}

func describe(e call.Event) string {
	who := shortID(e.ParticipantID)
	if e.Name != "" {
		who = e.Name
	}
	switch e.Kind {
	case call.ParticipantJoined:
		return IconPeer + " " + who + " joined"
	case call.ParticipantLeft:
		return IconLeave + " " + who + " left"
	case call.RemoteStreamReady:
		return IconCamera + " receiving media from " + who
	case call.ConnectionStateChanged:
		return stateStyle(e.State.String()).Render(who + " " + e.State.String())
	case call.LocalMediaError:
		return ErrorStyle.Render(e.MediaError.String() + ": " + e.MediaError.Remediation())
	case call.PeerError:
		if peer.IsConnectivity(e.Err) {
			return WarningStyle.Render(IconWarning + " " + who + " unreachable, dropped from the call")
		}
		return ErrorStyle.Render(e.String())
	default:
		return ErrorStyle.Render(e.String())
	}
}

func (m *callModel) stats() CallStats {
	return CallStats{Participants: len(m.seen), Streams: m.streams}
}

func (m *callModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s %s", IconRoom, m.roomID)))
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("You: %s %s",
		toggleIcon(m.audio, IconMic, IconMicOff),
		toggleIcon(m.video, IconCamera, IconCamOff),
	))
	if m.status != "" {
		b.WriteString("  " + MutedStyle.Render(m.status))
	}
	b.WriteString("\n\n")

	if m.negotiating() {
		b.WriteString(m.spinner.View() + " Negotiating...\n")
	}
	b.WriteString(RosterView(m.roster))
	b.WriteString("\n\n")

	for _, line := range m.log {
		b.WriteString(line + "\n")
	}

	b.WriteString(FooterStyle.Render("a mute/unmute · v camera on/off · q leave"))
	return b.String()
}

func (m *callModel) negotiating() bool {
	for _, r := range m.roster {
		if strings.HasPrefix(r.State, "negotiating") {
			return true
		}
	}
	return false
}

// RunCallView shows the interactive call screen until the user quits, ctx
// is cancelled or the call's event channel closes.
func RunCallView(ctx context.Context, c Call, roomID string) (CallStats, error) {
	m := newCallModel(c, roomID)
	if _, err := tea.NewProgram(m, tea.WithContext(ctx)).Run(); err != nil && ctx.Err() == nil {
		return m.stats(), err
	}
	return m.stats(), nil
}
