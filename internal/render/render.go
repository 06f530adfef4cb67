// Package render writes scheduling resources to the terminal in tabular or structured form.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/qcs/internal/timeparse"
	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Format selects how resources are written.
type Format string

const (
	FormatTabular    Format = "tabular"
	FormatJSON       Format = "json"
	FormatJSONPretty Format = "json-pretty"
	FormatYAML       Format = "yaml"
)

const (
	timeLayout = "2006-01-02 15:04 MST"

	reservationTitles  = "ID    START                    END                      DURATION  LATTICE            PRICE"
	availabilityTitles = "START                    END                      DURATION  LATTICE            PRICE"
	qmiTitles          = "ID          IP              STATUS"
	currentHeader      = "CURRENTLY RUNNING COMPUTE BLOCKS"
	upcomingHeader     = "UPCOMING COMPUTE BLOCKS"

	// DeleteQMIWarning is shown before a QMI deletion is confirmed.
	DeleteQMIWarning = `Alert! You have requested to delete your QMI. Are you absolutely sure?
Deleting your QMI will also delete your associated SSH keys. This action cannot be undone.
This will not affect your credits or realized usage, however it will cancel all current and
future reservations associated with this QMI.
`
)

// ParseFormat validates a --format value. An empty value selects tabular output.
func ParseFormat(raw string) (Format, error) {
	switch format := Format(strings.ToLower(strings.TrimSpace(raw))); format {
	case "":
		return FormatTabular, nil
	case FormatTabular, FormatJSON, FormatJSONPretty, FormatYAML:
		return format, nil
	default:
		return "", fmt.Errorf("%w: unknown output format %q (expected tabular, json, json-pretty or yaml)", qcs.ErrInvalidConfig, raw)
	}
}

// Structured reports whether the format is machine readable.
func (format Format) Structured() bool {
	return format != FormatTabular
}

// Renderer writes resources to one output stream.
type Renderer struct {
	out      io.Writer
	format   Format
	output   *termenv.Output
	now      func() time.Time
	location *time.Location
}

// Option customizes a Renderer.
type Option func(*Renderer)

// WithColor forces colored alerts on or off.
func WithColor(enabled bool) Option {
	return func(renderer *Renderer) {
		profile := termenv.Ascii
		if enabled {
			profile = termenv.ANSI
		}
		renderer.output = termenv.NewOutput(renderer.out, termenv.WithProfile(profile))
	}
}

// WithClock sets the clock used to split running from upcoming reservations.
func WithClock(now func() time.Time) Option {
	return func(renderer *Renderer) {
		if now != nil {
			renderer.now = now
		}
	}
}

// WithLocation sets the zone timestamps are displayed in.
func WithLocation(location *time.Location) Option {
	return func(renderer *Renderer) {
		if location != nil {
			renderer.location = location
		}
	}
}

// New builds a Renderer. Colors are enabled only when out is a terminal.
func New(out io.Writer, format Format, options ...Option) *Renderer {
	renderer := &Renderer{
		out:      out,
		format:   format,
		now:      time.Now,
		location: time.Local,
	}
	WithColor(IsTerminal(out))(renderer)
	for _, option := range options {
		if option != nil {
			option(renderer)
		}
	}
	return renderer
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

// Format returns the configured output format.
func (renderer *Renderer) Format() Format {
	return renderer.format
}

// Message writes one line of plain text. Structured formats suppress it.
func (renderer *Renderer) Message(format string, args ...any) {
	if renderer.format.Structured() {
		return
	}
	fmt.Fprintf(renderer.out, format+"\n", args...)
}

// Alert writes one highlighted line. Structured formats suppress it.
func (renderer *Renderer) Alert(format string, args ...any) {
	if renderer.format.Structured() {
		return
	}
	fmt.Fprintln(renderer.out, renderer.highlight(fmt.Sprintf(format, args...)))
}

func (renderer *Renderer) highlight(text string) string {
	return renderer.output.String(text).Foreground(termenv.ANSIYellow).String()
}

// Credits writes the available credit line, or the balance due when credit is negative.
func (renderer *Renderer) Credits(credits qcs.Credits) error {
	if renderer.format.Structured() {
		return renderer.encode(credits)
	}
	line := "Available credits: " + Currency(credits.AvailableCredit)
	if credits.AvailableCredit < 0 {
		line = "Current balance due for billing cycle: " + Currency(-credits.AvailableCredit)
	}
	_, err := fmt.Fprintln(renderer.out, renderer.highlight(line))
	return err
}

// Availabilities writes candidate slots. The ID column appears only when there is a choice to make.
func (renderer *Renderer) Availabilities(availabilities []qcs.Availability) error {
	if renderer.format.Structured() {
		return renderer.encode(nonNil(availabilities))
	}
	var builder strings.Builder
	switch len(availabilities) {
	case 0:
		builder.WriteString("\nThere is no upcoming compute availability. Please try again later.\n")
		return renderer.write(builder.String())
	case 1:
		builder.WriteString("\nThe next available compute block is:\n\n")
	default:
		builder.WriteString("\nThe next available compute blocks are:\n\n")
		builder.WriteString(pad("ID", 6))
	}
	builder.WriteString(availabilityTitles + "\n")
	for index, availability := range availabilities {
		if len(availabilities) > 1 {
			builder.WriteString(pad(strconv.Itoa(index), 6))
		}
		builder.WriteString(renderer.block(availability.StartTime, availability.EndTime, availability.LatticeName, availability.ExpectedPrice))
	}
	return renderer.write(builder.String())
}

// Reservations writes the schedule split into running and upcoming blocks.
func (renderer *Renderer) Reservations(reservations []qcs.Reservation) error {
	if renderer.format.Structured() {
		return renderer.encode(nonNil(reservations))
	}
	if len(reservations) == 0 {
		return renderer.write("No reservations found.\n")
	}
	now := renderer.now()
	var current, upcoming []qcs.Reservation
	for _, reservation := range reservations {
		if !reservation.StartTime.After(now) {
			current = append(current, reservation)
		} else {
			upcoming = append(upcoming, reservation)
		}
	}
	var builder strings.Builder
	renderer.reservationBlock(&builder, currentHeader, current)
	if len(current) > 0 && len(upcoming) > 0 {
		builder.WriteString("\n")
	}
	renderer.reservationBlock(&builder, upcomingHeader, upcoming)
	return renderer.write(builder.String())
}

func (renderer *Renderer) reservationBlock(builder *strings.Builder, header string, reservations []qcs.Reservation) {
	if len(reservations) == 0 {
		return
	}
	builder.WriteString(header + "\n")
	builder.WriteString(reservationTitles + "\n")
	for _, reservation := range reservations {
		builder.WriteString(pad(strconv.FormatInt(reservation.ID, 10), 6))
		builder.WriteString(renderer.block(reservation.StartTime, reservation.EndTime, reservation.LatticeName, reservation.PriceBooked))
	}
}

func (renderer *Renderer) block(start time.Time, end time.Time, latticeName string, price qcs.AmountCents) string {
	return pad(start.In(renderer.location).Format(timeLayout), 25) +
		pad(end.In(renderer.location).Format(timeLayout), 25) +
		pad(timeparse.FormatDuration(end.Sub(start).Seconds()), 10) +
		pad(latticeName, 19) +
		Currency(price) + "\n"
}

// Lattices writes one LATTICE block per entry.
func (renderer *Renderer) Lattices(lattices []qcs.Lattice) error {
	if renderer.format.Structured() {
		return renderer.encode(nonNil(lattices))
	}
	if len(lattices) == 0 {
		return renderer.write("\nNo lattices found.\n")
	}
	var builder strings.Builder
	for _, lattice := range lattices {
		qubits := qubitNames(lattice.Qubits)
		fmt.Fprintf(&builder, "LATTICE\nName: %s\n", lattice.LatticeName)
		fmt.Fprintf(&builder, "  Device: %s\n", lattice.DeviceName)
		fmt.Fprintf(&builder, "  Number of qubits: %d\n", len(qubits))
		fmt.Fprintf(&builder, "  Qubits: %s\n", strings.Join(qubits, ","))
		fmt.Fprintf(&builder, "  Price (per min.): %s\n", Currency(lattice.PricePerMinute))
	}
	return renderer.write(builder.String())
}

// Devices writes one DEVICE block per entry.
func (renderer *Renderer) Devices(devices []qcs.Device) error {
	if renderer.format.Structured() {
		return renderer.encode(nonNil(devices))
	}
	if len(devices) == 0 {
		return renderer.write("\nNo devices found.\n")
	}
	var builder strings.Builder
	for _, device := range devices {
		fmt.Fprintf(&builder, "DEVICE\nName: %s\n", device.DeviceName)
		if device.NumQubits > 0 {
			fmt.Fprintf(&builder, "  Number of qubits: %d\n", device.NumQubits)
		}
	}
	return renderer.write(builder.String())
}

// QMIs writes a QMI table.
func (renderer *Renderer) QMIs(qmis []qcs.QMI) error {
	if renderer.format.Structured() {
		return renderer.encode(nonNil(qmis))
	}
	if len(qmis) == 0 {
		return renderer.write("No QMIs found.\n")
	}
	var builder strings.Builder
	builder.WriteString(qmiTitles + "\n")
	for _, qmi := range qmis {
		builder.WriteString(pad(strconv.FormatInt(qmi.ID, 10), 12) + pad(qmi.IP(), 16) + qmi.Status + "\n")
	}
	return renderer.write(builder.String())
}

// Value writes an arbitrary value in the structured format, or as its fmt form when tabular.
func (renderer *Renderer) Value(value any) error {
	if renderer.format.Structured() {
		return renderer.encode(value)
	}
	_, err := fmt.Fprintln(renderer.out, value)
	return err
}

func (renderer *Renderer) encode(value any) error {
	switch renderer.format {
	case FormatYAML:
		encoder := yaml.NewEncoder(renderer.out)
		encoder.SetIndent(2)
		if err := encoder.Encode(value); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return encoder.Close()
	default:
		encoder := json.NewEncoder(renderer.out)
		if renderer.format == FormatJSONPretty {
			encoder.SetIndent("", "  ")
		}
		if err := encoder.Encode(value); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	}
}

func (renderer *Renderer) write(text string) error {
	_, err := io.WriteString(renderer.out, text)
	return err
}

// Currency formats cents as US dollars, e.g. "$1,234.50".
func Currency(amount qcs.AmountCents) string {
	if amount < 0 {
		return "-$" + humanize.FormatFloat("#,###.##", (-amount).Dollars())
	}
	return "$" + humanize.FormatFloat("#,###.##", amount.Dollars())
}

func qubitNames(qubits map[string]int) []string {
	names := make([]string, 0, len(qubits))
	for name := range qubits {
		names = append(names, name)
	}
	sort.Slice(names, func(left, right int) bool {
		leftValue, leftErr := strconv.Atoi(names[left])
		rightValue, rightErr := strconv.Atoi(names[right])
		if leftErr == nil && rightErr == nil {
			return leftValue < rightValue
		}
		return names[left] < names[right]
	})
	return names
}

func pad(value string, width int) string {
	if len(value) >= width {
		return value
	}
	return value + strings.Repeat(" ", width-len(value))
}

func nonNil[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}
