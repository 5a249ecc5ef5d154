// Package contextfmt renders the .context companion artifact: a
// human-skimmable plain-text summary of a tool call written alongside its
// JSON result, using a fixed legend of single-letter line prefixes.
package contextfmt

import (
	"fmt"
	"strings"
)

// Line is one line of a .context artifact body.
type Line struct {
	Prefix  string // one of A, N, R, E, C, M
	Content string
}

func Answer(content string) Line       { return Line{Prefix: "A", Content: content} }
func Note(content string) Line         { return Line{Prefix: "N", Content: content} }
func ArtifactRef(content string) Line  { return Line{Prefix: "R", Content: content} }
func ErrorLine(content string) Line    { return Line{Prefix: "E", Content: content} }
func Command(content string) Line      { return Line{Prefix: "C", Content: content} }
func Continuation(content string) Line { return Line{Prefix: "M", Content: content} }

const legend = "A:answer N:note R:artifact-ref E:error C:command M:continuation"

// Render builds the full .context text: a single canonical [LEGEND] header,
// a literal blank line, [CONTENT], another literal blank line, then the
// prefixed body lines.
func Render(lines []Line) string {
	var b strings.Builder
	b.WriteString("[LEGEND]\n")
	b.WriteString(legend)
	b.WriteString("\n\n[CONTENT]\n")
	for _, l := range lines {
		for _, raw := range strings.Split(l.Content, "\n") {
			fmt.Fprintf(&b, "%s:%s\n", l.Prefix, raw)
		}
	}
	return b.String()
}

// ForExecResult renders the standard .context body for an exec-family
// result: the command, a truncated stdout/stderr preview, and an error
// line if the call failed.
func ForExecResult(command, stdoutPreview, stderrPreview string, success bool, errMessage string, artifactRefs []string) string {
	var lines []Line
	lines = append(lines, Command(command))
	if stdoutPreview != "" {
		lines = append(lines, Answer(stdoutPreview))
	}
	if stderrPreview != "" {
		lines = append(lines, Note("stderr: "+stderrPreview))
	}
	for _, ref := range artifactRefs {
		lines = append(lines, ArtifactRef(ref))
	}
	if !success && errMessage != "" {
		lines = append(lines, ErrorLine(errMessage))
	}
	return Render(lines)
}
