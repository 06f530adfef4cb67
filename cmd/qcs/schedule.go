package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/qcs/internal/reserve"
	"github.com/MarkoPoloResearchLab/qcs/internal/timeparse"
	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
	"github.com/spf13/cobra"
)

const (
	cancelledMessage = "Reservation(s) cancelled. Type 'qcs reservations' to see the latest schedule."
	abortCancelText  = "aborting cancellation"
)

func newReservationsCommand(state *cliState) *cobra.Command {
	var (
		rawIDs     string
		userEmails []string
	)
	cmd := &cobra.Command{
		Use:   "reservations",
		Short: "View the compute block schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := qcs.ReservationFilter{UserEmails: userEmails}
			if rawIDs != "" {
				ids, err := parseIDs(rawIDs)
				if err != nil {
					return err
				}
				filter.IDs = ids
			}
			client, err := state.open(cmd)
			if err != nil {
				return err
			}
			result, err := client.service.Reservations(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return client.renderer.Reservations(result.Value)
		},
	}
	cmd.Flags().StringVarP(&rawIDs, "id", "i", "", "reservation ID, or a list of IDs such as '[1, 2]'")
	cmd.Flags().StringSliceVar(&userEmails, "user-email", nil, "show only reservations booked by these users")
	return cmd
}

func newReserveCommand(state *cliState) *cobra.Command {
	var (
		latticeName string
		rawStart    string
		rawDuration string
		notes       string
		listOnly    bool
		confirm     bool
	)
	cmd := &cobra.Command{
		Use:   "reserve",
		Short: "Book reservations in the compute schedule",
		Example: `  qcs reserve --lattice Aspen-1-2Q-B --start "2019-01-16 14:00" --duration 30m
  qcs reserve --duration 1h --list`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			durationSeconds, err := timeparse.ParseDuration(rawDuration)
			if err != nil {
				return err
			}
			start, err := timeparse.ParseStart(rawStart, state.runtime.now(), state.runtime.location)
			if err != nil {
				return err
			}
			mode := reserve.ModeInteractive
			switch {
			case listOnly:
				mode = reserve.ModeListOnly
			case confirm:
				mode = reserve.ModeDirectConfirm
			}
			client, err := state.open(cmd)
			if err != nil {
				return err
			}
			negotiator, err := reserve.NewNegotiator(client.service, client.terminal, client.renderer,
				reserve.WithOperationLogger(qcs.NewZapOperationLogger(client.logger)))
			if err != nil {
				return err
			}
			outcome, err := negotiator.Run(cmd.Context(), reserve.Request{
				LatticeName:     strings.TrimSpace(latticeName),
				StartTime:       start,
				DurationSeconds: durationSeconds,
				Notes:           notes,
				Mode:            mode,
			})
			if err != nil {
				return err
			}
			if outcome.Booked && client.renderer.Format().Structured() {
				return client.renderer.Reservations(outcome.Reservations)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&latticeName, "lattice", "l", "", "lattice on which to book time")
	cmd.Flags().StringVarP(&rawStart, "start", "s", "now", `date/time on or after which to book compute time (e.g. now, "in 2h", "2019-01-16 14:00")`)
	cmd.Flags().StringVarP(&rawDuration, "duration", "t", "30m", "duration of booked compute time (h, hr, hours, m, min, minutes, s, sec, seconds)")
	cmd.Flags().StringVarP(&notes, "notes", "n", "", "free-form notes for this reservation")
	cmd.Flags().BoolVar(&listOnly, "list", false, "show the next available blocks without booking")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "book the earliest available block on --lattice without prompting")
	cmd.MarkFlagsMutuallyExclusive("list", "confirm")
	return cmd
}

func newCancelCommand(state *cliState) *cobra.Command {
	var rawIDs string
	cmd := &cobra.Command{
		Use:     "cancel",
		Short:   "Cancel reservations in the compute schedule",
		Example: "  qcs cancel --id 1\n  qcs cancel --id '[1, 2]'",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(rawIDs)
			if err != nil {
				return err
			}
			client, err := state.open(cmd)
			if err != nil {
				return err
			}
			result, err := client.service.Reservations(cmd.Context(), qcs.ReservationFilter{IDs: ids})
			if err != nil {
				return err
			}
			active := make([]qcs.Reservation, 0, len(result.Value))
			activeIDs := make([]int64, 0, len(result.Value))
			for _, reservation := range result.Value {
				if reservation.IsActive() {
					active = append(active, reservation)
					activeIDs = append(activeIDs, reservation.ID)
				}
			}
			if len(active) == 0 {
				if result.IsEmpty() {
					return fmt.Errorf("no reservations found with id(s) %s", rawIDs)
				}
				return qcs.ErrNoActiveReservations
			}
			if err := client.renderer.Reservations(active); err != nil {
				return err
			}
			confirmed, err := client.terminal.ConfirmCancel()
			if err != nil {
				return err
			}
			if !confirmed {
				client.renderer.Message(abortCancelText)
				return nil
			}
			if err := client.service.CancelReservations(cmd.Context(), activeIDs); err != nil {
				return err
			}
			client.renderer.Message(cancelledMessage)
			return nil
		},
	}
	cmd.Flags().StringVarP(&rawIDs, "id", "i", "", "ID of the reservation to cancel, or a list of IDs such as '[1, 2]'")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// parseIDs accepts "1", "1,2" or "[1, 2]".
func parseIDs(raw string) ([]int64, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(raw), "["), "]")
	ids := []int64{}
	for _, field := range strings.Split(trimmed, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := parsePositiveInteger(field)
		if err != nil {
			return nil, fmt.Errorf("invalid reservation id %q: %w", field, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one reservation id is required")
	}
	return ids, nil
}

func parsePositiveInteger(raw string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, fmt.Errorf("%d is not positive", value)
	}
	return value, nil
}
