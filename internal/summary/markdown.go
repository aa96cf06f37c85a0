package summary

import (
	"strings"

	"github.com/codebuildervaibhav/meeting-minutes/internal/types"
)

// Canonical section headings of the meeting-minutes Markdown.
const (
	headingSummary     = "# 要約"
	headingAgenda      = "## 議題・議論内容"
	headingDecisions   = "## 決定事項"
	headingTodo        = "## ToDo"
	headingNextActions = "## 次のアクション"
	headingNextMeeting = "## 次回会議"
)

// Normalize converts line endings to LF and strips trailing whitespace,
// both per line and at the end of the document.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// Parse splits the meeting-minutes Markdown on its top-level headings and
// returns the structured details. Headings the model omitted come back as
// empty lists or strings; unknown sections are ignored.
func Parse(markdown string) types.MeetingDetails {
	details := types.MeetingDetails{
		Agenda:      []string{},
		Decisions:   []string{},
		Todo:        []string{},
		NextActions: []string{},
	}

	var nextMeeting []string
	section := ""
	for _, line := range strings.Split(Normalize(markdown), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			switch trimmed {
			case headingSummary:
				section = "summary"
			case headingAgenda:
				section = "agenda"
			case headingDecisions:
				section = "decisions"
			case headingTodo:
				section = "todo"
			case headingNextActions:
				section = "next_actions"
			case headingNextMeeting:
				section = "next_meeting"
			default:
				section = ""
			}
			continue
		}
		if trimmed == "" {
			continue
		}

		switch section {
		case "agenda":
			details.Agenda = append(details.Agenda, stripBullet(trimmed))
		case "decisions":
			details.Decisions = append(details.Decisions, stripBullet(trimmed))
		case "todo":
			details.Todo = append(details.Todo, stripBullet(trimmed))
		case "next_actions":
			details.NextActions = append(details.NextActions, stripBullet(trimmed))
		case "next_meeting":
			nextMeeting = append(nextMeeting, trimmed)
		}
	}
	details.NextMeeting = strings.Join(nextMeeting, "\n")
	return details
}

// stripBullet removes a leading list marker, including the ToDo checkbox.
func stripBullet(line string) string {
	for _, prefix := range []string{"- [ ] ", "- [x] ", "- ", "* ", "・"} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return line
}
