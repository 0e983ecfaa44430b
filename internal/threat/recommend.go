package threat

func recommend(level Level, detections []Detection) []string {
	var out []string
	switch level {
	case LevelCritical:
		out = append(out,
			"BLOCK: Critical threat detected - do not execute",
			"Escalate to security team immediately")
	case LevelHigh:
		out = append(out,
			"CAUTION: High risk prompt - require human approval",
			"Review detected patterns before execution")
	case LevelMedium:
		out = append(out, "WARNING: Medium risk detected - enhanced monitoring recommended")
	}

	seen := make(map[Category]bool, len(detections))
	for _, d := range detections {
		seen[d.Category] = true
	}
	if seen[CategorySystemCommandInjection] || seen[CategoryCommandExecution] {
		out = append(out, "Sanitize system commands before execution")
	}
	if seen[CategoryRoleConfusion] || seen[CategoryRoleHijacking] {
		out = append(out, "Validate agent role and context before processing")
	}
	if seen[CategoryDataExfiltration] {
		out = append(out, "Block external network access during execution")
	}
	if seen[CategoryInvalidEncoding] {
		out = append(out, "Reject or re-encode payloads that are not valid UTF-8")
	}

	if len(out) == 0 {
		out = append(out, "Prompt appears safe for execution")
	}
	return out
}
