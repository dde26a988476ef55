package presentation

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/tessera/internal/component"
)

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{
		writer: writer,
	}
}

// FormatJSON writes v as indented JSON.
func (f *Formatter) FormatJSON(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// FormatDefinitions formats a list of definitions as JSON
func (f *Formatter) FormatDefinitions(defs []DefinitionDTO) error {
	return f.FormatJSON(defs)
}

// FormatResolution formats a construction order as JSON
func (f *Formatter) FormatResolution(res ResolutionDTO) error {
	return f.FormatJSON(res)
}

// FormatTree writes snap as an indented tree. Owned dependencies are
// listed in brackets after their node.
func (f *Formatter) FormatTree(snap component.Snapshot, pretty bool) error {
	_, err := io.WriteString(f.writer, RenderTree(snap, pretty))
	return err
}

var (
	mountedColor   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	transientColor = lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"}
	destroyedColor = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}
	mutedColor     = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#696969"}
)

func stateStyle(state string) lipgloss.Style {
	switch state {
	case component.StateMounted.String():
		return lipgloss.NewStyle().Foreground(mountedColor)
	case component.StateDestroyed.String():
		return lipgloss.NewStyle().Foreground(destroyedColor)
	default:
		return lipgloss.NewStyle().Foreground(transientColor)
	}
}

// RenderTree renders snap one node per line with branch connectors. With
// pretty set, states and dependencies are coloured.
func RenderTree(snap component.Snapshot, pretty bool) string {
	var sb strings.Builder
	for _, root := range snap.Roots {
		renderNode(&sb, root, "", "", pretty)
	}
	return sb.String()
}

func renderNode(sb *strings.Builder, node component.NodeSnapshot, prefix, connector string, pretty bool) {
	label := node.Component + "#" + node.Key
	state := "(" + node.State + ")"
	var deps []string
	for _, d := range node.Deps {
		deps = append(deps, d.Component)
	}
	depText := ""
	if len(deps) > 0 {
		depText = "[" + strings.Join(deps, ", ") + "]"
	}

	if pretty {
		label = lipgloss.NewStyle().Bold(true).Render(label)
		state = stateStyle(node.State).Render(state)
		if depText != "" {
			depText = lipgloss.NewStyle().Foreground(mutedColor).Render(depText)
		}
	}

	sb.WriteString(prefix + connector + label + " " + state)
	if depText != "" {
		sb.WriteString(" " + depText)
	}
	sb.WriteString("\n")

	childPrefix := prefix
	switch connector {
	case "├─ ":
		childPrefix += "│  "
	case "└─ ":
		childPrefix += "   "
	}
	for i, c := range node.Children {
		conn := "├─ "
		if i == len(node.Children)-1 {
			conn = "└─ "
		}
		renderNode(sb, c, childPrefix, conn, pretty)
	}
}
