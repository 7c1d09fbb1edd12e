package portal

// SnapshotLines renders a daily-flagship snapshot response: the state/
// focus line plus, when a next action exists, its action line and an
// optional cursor line — exactly two lines when possible.
func SnapshotLines(in CapsuleInput, current Toolset, notesCursor, traceCursor, cardsCursor *int64) []string {
	next := SelectNextAction(in)

	var escalation *Escalation
	var backup *NextAction
	if next != nil {
		escalation = EscalationFor(next.Cmd, current)
	}

	var lines []string
	if escalation != nil {
		lines = append(lines, RenderEscalationLine(escalation))
	}
	lines = append(lines, RenderFocusLine(in.FocusID, in.FocusTitle, next, backup))
	if next != nil {
		lines = append(lines, RenderActionLine(next.Tool, next.Cmd, next.Args))
		if cursor := RenderCursorLine(notesCursor, traceCursor, cardsCursor); cursor != "MORE:" {
			lines = append(lines, cursor)
		}
	}
	return lines
}
