package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ocampo/fieldsync/internal/models"
	"github.com/ocampo/fieldsync/internal/status"
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}

	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	if m.Err != nil {
		return m.renderError()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	header := m.renderHeader()

	// three panels share the space below the header and footer
	availableHeight := m.Height - lipgloss.Height(header) - 2
	panelHeight := availableHeight / 3

	panels := lipgloss.JoinVertical(lipgloss.Left,
		m.renderQueuePanel(panelHeight),
		m.renderDeadPanel(panelHeight),
		m.renderHistoryPanel(panelHeight),
	)

	return lipgloss.JoinVertical(lipgloss.Left, header, panels, m.renderFooter())
}

func (m Model) renderHeader() string {
	st := m.Snapshot.State
	stateText := stateStyles[st].Render(strings.ToUpper(string(st)))
	if st == status.StateSyncing {
		stateText = m.Spinner.View() + " " + stateText
	}

	parts := []string{titleStyle.Render("fieldsync"), stateText}
	if m.Snapshot.LastSyncTime != nil {
		parts = append(parts, timestampStyle.Render("last sync "+m.Snapshot.LastSyncTime.Format("15:04:05")))
	}
	if m.Snapshot.LastError != "" {
		parts = append(parts, errTextStyle.Render(truncate(m.Snapshot.LastError, m.Width-20)))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderQueuePanel(height int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "pending  records:%d  attachments:%d  attendance:%d\n",
		m.Pending[models.KindRecord], m.Pending[models.KindAttachment], m.Pending[models.KindAttendance])

	if len(m.Ready) == 0 {
		b.WriteString(subtleStyle.Render("queue empty"))
	}
	for _, item := range m.visible(m.Ready, PanelQueue, height-3) {
		line := fmt.Sprintf("%-11s %s  attempts:%d", item.Kind, shortID(item.EntityID), item.Attempts)
		if item.LastError != "" {
			line += "  " + subtleStyle.Render(truncate(item.LastError, 40))
		}
		b.WriteString(line + "\n")
	}
	return m.panel("QUEUE [1]", b.String(), PanelQueue, height)
}

func (m Model) renderDeadPanel(height int) string {
	var b strings.Builder
	if len(m.Dead) == 0 {
		b.WriteString(subtleStyle.Render("no dead items"))
	}
	for _, item := range m.visible(m.Dead, PanelDead, height-2) {
		b.WriteString(fmt.Sprintf("%-11s %s  %s\n",
			item.Kind, shortID(item.EntityID), errTextStyle.Render(truncate(item.LastError, 50))))
	}
	return m.panel(fmt.Sprintf("DEAD ITEMS [2] (%d)", len(m.Dead)), b.String(), PanelDead, height)
}

func (m Model) renderHistoryPanel(height int) string {
	var b strings.Builder
	if len(m.History) == 0 {
		b.WriteString(subtleStyle.Render("no sync history"))
	}
	// newest last; show the tail that fits
	entries := m.History
	max := height - 2
	if max > 0 && len(entries) > max {
		entries = entries[len(entries)-max:]
	}
	for _, e := range entries {
		b.WriteString(fmt.Sprintf("%s %-5s %-11s %s %s\n",
			timestampStyle.Render(e.Timestamp.Format("15:04:05")),
			e.Direction, e.Kind, shortID(e.EntityID), e.Outcome))
	}
	return m.panel("HISTORY [3]", b.String(), PanelHistory, height)
}

func (m Model) panel(title, content string, p Panel, height int) string {
	style := panelStyle
	if m.ActivePanel == p {
		style = activePanelStyle
	}
	body := panelTitleStyle.Render(title) + "\n" + strings.TrimRight(content, "\n")
	return style.Width(m.Width - 2).Height(height - 2).Render(body)
}

func (m Model) renderFooter() string {
	return helpStyle.Render("tab: switch panel  j/k: scroll  r: refresh  ?: help  q: quit")
}

func (m Model) renderCompact() string {
	pending := 0
	for _, n := range m.Pending {
		pending += n
	}
	return fmt.Sprintf("fieldsync %s\npending:%d dead:%d\n(terminal too small)",
		m.Snapshot.State, pending, len(m.Dead))
}

func (m Model) renderError() string {
	return errTextStyle.Render("error: "+m.Err.Error()) + "\n\n" +
		helpStyle.Render("r: retry  q: quit")
}

func (m Model) renderHelp() string {
	help := `fieldsync monitor

  1/2/3      jump to panel
  tab        next panel
  j/k        scroll active panel
  r          refresh now
  ?          close help
  q          quit

Dead items need operator action:
  fieldsync queue retry <id>
  fieldsync queue retry --all`
	return panelStyle.Width(m.Width - 2).Render(help)
}

// visible applies the panel's scroll offset and clips to the given height.
func (m Model) visible(items []models.WorkItem, p Panel, max int) []models.WorkItem {
	if max <= 0 {
		return nil
	}
	offset := m.ScrollOffset[p]
	if offset >= len(items) {
		offset = 0
	}
	items = items[offset:]
	if len(items) > max {
		items = items[:max]
	}
	return items
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if max < 4 {
		max = 4
	}
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
