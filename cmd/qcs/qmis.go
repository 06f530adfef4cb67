package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/MarkoPoloResearchLab/qcs/internal/config"
	"github.com/MarkoPoloResearchLab/qcs/internal/render"
	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
	"github.com/spf13/cobra"
)

const (
	zoneinfoMarker = "zoneinfo/"
	localtimePath  = "/etc/localtime"
)

type qmiFlags struct {
	rawID    string
	create   bool
	keypath  string
	timezone string
	delete   bool
	start    bool
	stop     bool
}

func newQMIsCommand(state *cliState) *cobra.Command {
	flags := &qmiFlags{}
	cmd := &cobra.Command{
		Use:   "qmis",
		Short: "View, create, start/stop, and delete QMIs",
		Example: `  qcs qmis
  qcs qmis --create --keypath ~/.ssh/id_rsa.pub --timezone America/Los_Angeles
  qcs qmis --start --id 12
  qcs qmis --delete --id 12`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case flags.create:
				return runCreateQMI(cmd, state, flags)
			case flags.delete:
				return runDeleteQMI(cmd, state, flags)
			case flags.start || flags.stop:
				return runPowerQMI(cmd, state, flags)
			default:
				return runQueryQMIs(cmd, state, flags)
			}
		},
	}
	cmd.Flags().StringVarP(&flags.rawID, "id", "i", "", "ID of a QMI, used by query, start/stop and delete")
	cmd.Flags().BoolVarP(&flags.create, "create", "c", false, "create a QMI; requires --keypath and optionally --timezone")
	cmd.Flags().StringVarP(&flags.keypath, "keypath", "k", "", "path to an SSH public key, used with --create")
	cmd.Flags().StringVarP(&flags.timezone, "timezone", "z", "", "QMI timezone, e.g. America/Los_Angeles (defaults to the local system zone)")
	cmd.Flags().BoolVarP(&flags.delete, "delete", "d", false, "delete a QMI; requires --id")
	cmd.Flags().BoolVar(&flags.start, "start", false, "power on a QMI; requires --id")
	cmd.Flags().BoolVar(&flags.stop, "stop", false, "power off a QMI; requires --id")
	return cmd
}

func runCreateQMI(cmd *cobra.Command, state *cliState, flags *qmiFlags) error {
	if flags.keypath == "" {
		return errors.New("must supply a --keypath when creating a QMI")
	}
	if flags.rawID != "" {
		return errors.New("cannot supply an --id when creating a QMI")
	}
	if flags.delete {
		return errors.New("cannot supply --delete and --create simultaneously")
	}
	client, err := state.open(cmd)
	if err != nil {
		return err
	}
	timezone := strings.TrimSpace(flags.timezone)
	if timezone == "" {
		timezone = inferTimezone()
		client.renderer.Message("No --timezone supplied, inferring timezone '%s' from local system.", timezone)
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("%w: invalid timezone %q supplied, please provide a valid timezone", qcs.ErrInvalidConfig, timezone)
	}
	publicKey, err := os.ReadFile(config.ExpandHome(flags.keypath, client.config.HomeDir))
	if err != nil {
		return fmt.Errorf("read public key: %w", err)
	}
	if err := client.service.CreateQMI(cmd.Context(), qcs.QMIRequest{PublicKey: strings.TrimSpace(string(publicKey)), Timezone: timezone}); err != nil {
		return err
	}
	client.renderer.Message("QMI creation in progress. Type qcs qmis to view your QMIs.")
	return nil
}

func runDeleteQMI(cmd *cobra.Command, state *cliState, flags *qmiFlags) error {
	if flags.keypath != "" {
		return errors.New("cannot supply a --keypath when deleting a QMI")
	}
	if flags.rawID == "" {
		return errors.New("must supply an --id when deleting a QMI")
	}
	id, err := parsePositiveInteger(flags.rawID)
	if err != nil {
		return errors.New("must supply a positive integer ID when deleting a QMI")
	}
	client, err := state.open(cmd)
	if err != nil {
		return err
	}
	qmi, err := client.service.QMI(cmd.Context(), id)
	if err != nil {
		return err
	}
	client.renderer.Message("Found 1 QMI for deletion:")
	if err := client.renderer.QMIs([]qcs.QMI{qmi}); err != nil {
		return err
	}
	client.renderer.Alert("\n%s", render.DeleteQMIWarning)
	confirmed, err := client.terminal.ConfirmDeleteQMI("", qmi.IP())
	if err != nil {
		return err
	}
	if !confirmed {
		client.renderer.Message("Typed response doesn't match QMI IP address, aborting deletion.")
		return nil
	}
	if err := client.service.DeleteQMI(cmd.Context(), id); err != nil {
		return err
	}
	client.renderer.Message("QMI deletion successful.")
	return nil
}

func runPowerQMI(cmd *cobra.Command, state *cliState, flags *qmiFlags) error {
	if flags.keypath != "" {
		return errors.New("cannot supply a --keypath when powering on/off a QMI")
	}
	if flags.rawID == "" {
		return errors.New("must supply an --id when powering on/off a QMI")
	}
	if flags.start && flags.stop {
		return errors.New("cannot start (--start) and stop (--stop) a QMI at once")
	}
	id, err := parsePositiveInteger(flags.rawID)
	if err != nil {
		return errors.New("must supply a positive integer ID when powering on/off a QMI")
	}
	client, err := state.open(cmd)
	if err != nil {
		return err
	}
	if flags.start {
		if err := client.service.StartQMI(cmd.Context(), id); err != nil {
			return err
		}
		client.renderer.Message("QMI successfully powered on.")
		return nil
	}
	if err := client.service.StopQMI(cmd.Context(), id); err != nil {
		return err
	}
	client.renderer.Message("QMI successfully powered off.")
	return nil
}

func runQueryQMIs(cmd *cobra.Command, state *cliState, flags *qmiFlags) error {
	var id int64
	if flags.rawID != "" {
		parsed, err := parsePositiveInteger(flags.rawID)
		if err != nil {
			return fmt.Errorf("must supply a positive integer QMI ID: %w", err)
		}
		id = parsed
	}
	client, err := state.open(cmd)
	if err != nil {
		return err
	}
	if id != 0 {
		qmi, err := client.service.QMI(cmd.Context(), id)
		if err != nil {
			return err
		}
		return client.renderer.QMIs([]qcs.QMI{qmi})
	}
	qmis, err := client.service.QMIs(cmd.Context())
	if err != nil {
		return err
	}
	return client.renderer.QMIs(qmis)
}

// inferTimezone names the local IANA zone from TZ or the /etc/localtime link, falling back to UTC.
func inferTimezone() string {
	if zone := strings.TrimPrefix(strings.TrimSpace(os.Getenv("TZ")), ":"); zone != "" {
		return zone
	}
	if target, err := filepath.EvalSymlinks(localtimePath); err == nil {
		if index := strings.LastIndex(target, zoneinfoMarker); index >= 0 {
			return target[index+len(zoneinfoMarker):]
		}
	}
	if name := time.Local.String(); name != "" && name != "Local" {
		return name
	}
	return "UTC"
}
