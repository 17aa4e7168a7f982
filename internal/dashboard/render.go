package dashboard

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/nugget/buildbridge/internal/dispatch"
)

// historyEntry records one completed execution for display.
type historyEntry struct {
	ID     uint64
	Status string
	At     time.Time
}

// renderMarkdown builds the dashboard's markdown source from the current
// build structure and recent execution history, newest first.
func renderMarkdown(structure dispatch.BuildStructure, history []historyEntry) string {
	var b strings.Builder

	b.WriteString("# Build Status\n\n")
	fmt.Fprintf(&b, "_Generated %s_\n\n", time.Now().UTC().Format(time.RFC3339))

	b.WriteString("## Projects\n\n")
	if len(structure.Projects) == 0 {
		b.WriteString("_no projects loaded yet_\n\n")
	} else {
		for _, p := range structure.Projects {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Keys\n\n")
	if len(structure.Keys) == 0 {
		b.WriteString("_no keys loaded yet_\n\n")
	} else {
		b.WriteString("| Key |\n|---|\n")
		for _, k := range structure.Keys {
			fmt.Fprintf(&b, "| %s |\n", k.String())
		}
		b.WriteString("\n")
	}

	b.WriteString("## Recent Executions\n\n")
	if len(history) == 0 {
		b.WriteString("_no executions yet_\n")
	} else {
		b.WriteString("| ID | Status | Finished |\n|---|---|---|\n")
		for i := len(history) - 1; i >= 0; i-- {
			h := history[i]
			fmt.Fprintf(&b, "| %d | %s | %s |\n", h.ID, h.Status, h.At.UTC().Format(time.RFC3339))
		}
	}

	return b.String()
}

// renderHTML converts markdown to a minimal standalone HTML page.
func renderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}

	html := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>buildbridge</title>
<meta http-equiv="refresh" content="10">
<style>body{font-family:sans-serif;max-width:50rem;margin:2rem auto;padding:0 1rem}
table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.25rem .5rem}</style>
</head><body>
%s
</body></html>`, buf.String())

	return html, nil
}
