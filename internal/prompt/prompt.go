// Package prompt reads interactive decisions from a terminal.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
)

const (
	singleCandidatePrompt = "Accept? Type (y)es, (n)o to continue looking, or (q)uit"
	manyCandidatePrompt   = "Accept one of the above by typing its ID (or type 'n' to continue looking, or 'q' to quit)"
	cancelPrompt          = "\nCancel reservation(s)? (y)es, (N)o"
	deleteQMIPrompt       = "To confirm deletion, please type the IP address of the QMI (or ctrl-C to cancel)"
)

// Action is the kind of decision the user made about a candidate set.
type Action int

const (
	// ActionAccept books the candidate at Decision.Index.
	ActionAccept Action = iota
	// ActionReject keeps looking from a later start time.
	ActionReject
	// ActionQuit stops without booking.
	ActionQuit
)

// String returns the action label.
func (action Action) String() string {
	switch action {
	case ActionAccept:
		return "accept"
	case ActionReject:
		return "reject"
	case ActionQuit:
		return "quit"
	default:
		return fmt.Sprintf("action(%d)", int(action))
	}
}

// Decision is the parsed answer to a candidate prompt.
type Decision struct {
	Action Action
	Index  int
}

// ParseChoice interprets one answer for a set of count candidates.
// An error means the answer must be asked for again; its message is shown to the user.
func ParseChoice(answer string, count int) (Decision, error) {
	trimmed := strings.TrimSpace(answer)
	if index, err := strconv.Atoi(trimmed); err == nil {
		if index == 0 {
			return Decision{Action: ActionAccept, Index: 0}, nil
		}
		if count > 1 && index > 0 {
			if index > count-1 {
				return Decision{}, fmt.Errorf("%w: ID value %s is out of bounds from the IDs listed above, please select a valid ID", qcs.ErrInvalidSelection, trimmed)
			}
			return Decision{Action: ActionAccept, Index: index}, nil
		}
	}
	switch strings.ToLower(firstRune(trimmed)) {
	case "y":
		return Decision{Action: ActionAccept, Index: 0}, nil
	case "n":
		return Decision{Action: ActionReject}, nil
	case "q":
		return Decision{Action: ActionQuit}, nil
	}
	options := "'y' to book"
	if count > 1 {
		options = "the ID of the availability to book"
	}
	return Decision{}, fmt.Errorf("%w: please enter a response of either %s, 'n' to continue looking, or 'q' to quit", qcs.ErrInvalidSelection, options)
}

func firstRune(value string) string {
	for _, r := range value {
		return string(r)
	}
	return ""
}

// Terminal prompts on out and reads answers line by line from in.
type Terminal struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewTerminal wraps the given streams.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{reader: bufio.NewReader(in), out: out}
}

// ChooseAvailability asks until the answer is valid. End of input is treated as quit.
func (terminal *Terminal) ChooseAvailability(count int) (Decision, error) {
	question := singleCandidatePrompt
	if count > 1 {
		question = manyCandidatePrompt
	}
	for {
		answer, err := terminal.ask(question)
		if errors.Is(err, io.EOF) && answer == "" {
			return Decision{Action: ActionQuit}, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return Decision{}, err
		}
		decision, parseErr := ParseChoice(answer, count)
		if parseErr == nil {
			return decision, nil
		}
		fmt.Fprintln(terminal.out, strings.TrimPrefix(parseErr.Error(), qcs.ErrInvalidSelection.Error()+": "))
		if errors.Is(err, io.EOF) {
			return Decision{Action: ActionQuit}, nil
		}
	}
}

// ConfirmCancel asks whether to cancel the listed reservations. Anything but yes declines.
func (terminal *Terminal) ConfirmCancel() (bool, error) {
	answer, err := terminal.ask(cancelPrompt)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.ToLower(firstRune(strings.TrimSpace(answer))) == "y", nil
}

// ConfirmDeleteQMI shows warning and requires the user to type ip.
func (terminal *Terminal) ConfirmDeleteQMI(warning string, ip string) (bool, error) {
	if warning != "" {
		fmt.Fprintln(terminal.out, warning)
	}
	answer, err := terminal.ask(deleteQMIPrompt)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return ip != "" && strings.TrimSpace(answer) == ip, nil
}

func (terminal *Terminal) ask(question string) (string, error) {
	fmt.Fprintf(terminal.out, "%s: ", question)
	line, err := terminal.reader.ReadString('\n')
	return strings.TrimSpace(line), err
}
