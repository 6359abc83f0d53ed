// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/vevorstat/pkg/vevor"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// TUI model
type model struct {
	connInfo      string
	checksum      string
	statsInterval int
	showAll       bool
	stats         *vevor.Statistics
	eventLog      []eventLogEntry
	maxLogEntries int
	synchronized  bool
	invalidRuns   int
	width         int
	height        int
	quitting      bool
	closed        error

	// Latest decoded heater frame
	fields      table.Model
	lastState   vevor.CombustionState
	lastSource  vevor.StateSource
	lastVariant vevor.Variant
	lastAt      time.Time
	hasDecoded  bool
}

// Messages
type tickMsg time.Time
type busMsg busEvent
type closedMsg struct {
	err error
}

func newFieldTable() table.Model {
	columns := []table.Column{
		{Title: "Field", Width: 28},
		{Title: "Value", Width: 12},
		{Title: "Unit", Width: 6},
		{Title: "Confidence", Width: 12},
		{Title: "Offset", Width: 6},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = lipgloss.NewStyle()
	t.SetStyles(s)
	return t
}

// fieldRows turns decoded values into table rows, hiding reserved bytes
// unless every byte was requested
func fieldRows(d *vevor.DecodedFrame, includeReserved bool) []table.Row {
	var rows []table.Row
	for _, v := range d.Values() {
		if v.Reserved && !includeReserved {
			continue
		}
		value, unit := "absent", ""
		if !v.Absent {
			value, unit = vevor.FormatNumber(v), v.Unit
		}
		rows = append(rows, table.Row{
			v.Name,
			value,
			unit,
			v.Confidence.String(),
			fmt.Sprintf("%d", v.Offset),
		})
	}
	return rows
}

func initialModel(connInfo, checksum string, statsInterval int, showAll bool) model {
	return model{
		connInfo:      connInfo,
		checksum:      checksum,
		statsInterval: statsInterval,
		showAll:       showAll,
		stats:         vevor.NewStatistics(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
		fields:        newFieldTable(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case closedMsg:
		m.closed = msg.err
		m.addLogEntry(fmt.Sprintf("Connection closed: %v", msg.err), true)

	case busMsg:
		m.handleBusEvent(busEvent(msg))
	}

	return m, nil
}

func (m *model) handleBusEvent(ev busEvent) {
	ev.record(m.stats)

	switch {
	case ev.PreSync:
		m.invalidRuns++

	case ev.Frame == nil:
		m.addLogEntry(fmt.Sprintf("FRAMING: %v", ev.Err), true)

	case ev.Err != nil:
		m.addLogEntry(fmt.Sprintf("REJECTED: %v", ev.Err), true)

	default:
		if ev.Synced {
			m.synchronized = true
			if m.invalidRuns > 0 {
				m.addLogEntry(fmt.Sprintf("Synchronized after discarding %d invalid byte runs", m.invalidRuns), false)
			} else {
				m.addLogEntry("Synchronized", false)
			}
		}

		if err := ev.Decoded.Err(); err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %v", ev.Variant, err), true)
		} else if m.showAll {
			m.addLogEntry(fmt.Sprintf("%s %s (valid)", ev.Variant, vevor.FormatCommand(ev.Frame.Command())), false)
		}

		// The field table tracks the heater's status frames
		if ev.Frame.Direction() == vevor.DirectionHeaterToController {
			m.lastState, m.lastSource = ev.Decoded.State()
			m.lastVariant = ev.Variant
			m.lastAt = ev.Frame.Timestamp()
			m.hasDecoded = true
			m.fields.SetRows(fieldRows(ev.Decoded, m.showAll))
		}
	}
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("VEVORSTAT - ERROR DETECTION"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Checksum: %s | Mode: %s | Press 'q' to quit",
		m.connInfo, m.checksum, mode)))
	s.WriteString("\n\n")

	// Sync status
	switch {
	case m.closed != nil:
		s.WriteString(errorStyle.Render("✗ Connection closed"))
	case !m.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.invalidRuns > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (discarded %d invalid byte runs)", m.invalidRuns)))
		}
	}
	s.WriteString("\n\n")

	// Statistics
	m.stats.CalculateRates()
	var validPercent, errorPercent float64
	errorCount := m.stats.ErrorCount()
	if m.stats.TotalFrames > 0 {
		validPercent = float64(m.stats.ValidFrames) * 100.0 / float64(m.stats.TotalFrames)
		errorPercent = float64(errorCount) * 100.0 / float64(m.stats.TotalFrames)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.ValidFrames, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", errorCount, errorPercent)),
	))

	if m.stats.ChecksumErrors > 0 || m.stats.FramingErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Checksum Errors:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.ChecksumErrors)),
			statsLabelStyle.Render("Framing Errors:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.FramingErrors)),
		))
	}

	if m.stats.AmbiguousFrames > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Ambiguous:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.AmbiguousFrames)),
		))
	}

	if len(m.stats.ByVariant) > 0 {
		variants := make([]vevor.Variant, 0, len(m.stats.ByVariant))
		for v := range m.stats.ByVariant {
			variants = append(variants, v)
		}
		sort.Slice(variants, func(i, j int) bool { return variants[i] < variants[j] })
		parts := make([]string, 0, len(variants))
		for _, v := range variants {
			parts = append(parts, fmt.Sprintf("%s: %d", v, m.stats.ByVariant[v]))
		}
		statsContent.WriteString(headerStyle.Render(strings.Join(parts, ", ")))
		statsContent.WriteString("\n")
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", m.stats.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if m.stats.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Latest heater status (only shown once a heater frame decoded)
	if m.hasDecoded {
		s.WriteString(statsLabelStyle.Render("Latest Heater Status:"))
		s.WriteString("\n")

		statusContent := strings.Builder{}
		statusContent.WriteString(fmt.Sprintf("%s %s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("State:"), statsValueStyle.Render(m.lastState.String()),
			headerStyle.Render("("+m.lastSource.String()+")"),
			statsLabelStyle.Render("Variant:"), statsValueStyle.Render(m.lastVariant.String()),
			statsLabelStyle.Render("At:"), statsValueStyle.Render(m.lastAt.Format("15:04:05.000")),
		))
		statusContent.WriteString(m.fields.View())

		s.WriteString(boxStyle.Render(statusContent.String()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 15
	if m.hasDecoded {
		logHeight -= 16
	}
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
