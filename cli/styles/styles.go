// Package styles provides consistent styling for the eventide CLI.
package styles

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Color palette
var (
	Primary      = lipgloss.Color("#0EA5E9") // Sky blue
	PrimaryLight = lipgloss.Color("#7DD3FC") // Light sky
	Secondary    = lipgloss.Color("#14B8A6") // Teal

	Success     = lipgloss.Color("#10B981") // Emerald green
	Warning     = lipgloss.Color("#F59E0B") // Amber
	WarningSoft = lipgloss.Color("#FBBF24") // Light amber
	Error       = lipgloss.Color("#EF4444") // Red
	Info        = lipgloss.Color("#3B82F6") // Blue

	Text      = lipgloss.Color("#F9FAFB") // Almost white
	TextMuted = lipgloss.Color("#9CA3AF") // Gray
	TextDim   = lipgloss.Color("#6B7280") // Darker gray
	Surface   = lipgloss.Color("#1F2937")
	Border    = lipgloss.Color("#374151")
)

// Text styles
var (
	Bold = lipgloss.NewStyle().
		Bold(true)

	// Title style for headers
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		MarginBottom(1)

	// Subtitle for secondary headers
	Subtitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryLight)

	Normal = lipgloss.NewStyle().
		Foreground(Text)

	Muted = lipgloss.NewStyle().
		Foreground(TextMuted)

	Dim = lipgloss.NewStyle().
		Foreground(TextDim)

	// Highlight for values worth noticing
	Highlight = lipgloss.NewStyle().
			Bold(true).
			Foreground(Secondary)

	// Code style for inline commands
	Code = lipgloss.NewStyle().
		Foreground(WarningSoft).
		Background(Surface).
		Padding(0, 1)
)

// Status styles
var (
	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error)

	InfoStyle = lipgloss.NewStyle().
			Foreground(Info)
)

// Message listing styles
var (
	// Position column for stream and global positions
	Position = lipgloss.NewStyle().
			Foreground(TextMuted).
			Width(8).
			Align(lipgloss.Right)

	// MessageType column
	MessageType = lipgloss.NewStyle().
			Bold(true).
			Foreground(Secondary)

	// StreamName column
	StreamName = lipgloss.NewStyle().
			Foreground(PrimaryLight)

	// Payload for JSON data and metadata
	Payload = lipgloss.NewStyle().
		Foreground(TextDim).
		PaddingLeft(2)
)

// Icons
const (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "⚠"
	IconInfo    = "ℹ"
	IconArrow   = "→"
	IconStream  = "⇶"
)

// Box is a rounded container for summaries.
var Box = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(Border).
	Padding(0, 1)

// FormatSuccess formats a success message with icon
func FormatSuccess(msg string) string {
	return SuccessStyle.Render(IconSuccess) + " " + Normal.Render(msg)
}

// FormatError formats an error message with icon
func FormatError(msg string) string {
	return ErrorStyle.Render(IconError) + " " + Normal.Render(msg)
}

// FormatWarning formats a warning message with icon
func FormatWarning(msg string) string {
	return WarningStyle.Render(IconWarning) + " " + Normal.Render(msg)
}

// FormatInfo formats an info message with icon
func FormatInfo(msg string) string {
	return InfoStyle.Render(IconInfo) + " " + Normal.Render(msg)
}

// FormatKeyValue formats a key-value pair
func FormatKeyValue(key, value string) string {
	keyStyle := lipgloss.NewStyle().
		Foreground(TextMuted).
		Width(20)
	return keyStyle.Render(key+":") + " " + Highlight.Render(value)
}

// FormatMessageLine formats the summary line of a message listing.
func FormatMessageLine(position, globalPosition int64, messageType, streamName string) string {
	return Position.Render(fmt.Sprint(position)) + " " +
		Position.Render(fmt.Sprintf("#%d", globalPosition)) + " " +
		MessageType.Render(messageType) + " " +
		Dim.Render(IconArrow) + " " +
		StreamName.Render(streamName)
}

// DisableColors switches rendering to plain ASCII output.
func DisableColors() {
	lipgloss.SetColorProfile(termenv.Ascii)
}
