package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"signalpush/internal/app"
	"signalpush/internal/model"
)

type sendOptions struct {
	kind    string
	title   string
	message string
	data    string
	user    string
	devices []string
}

func (o *sendOptions) request() (model.NotificationRequest, error) {
	req := model.NotificationRequest{
		Type:            model.Kind(o.kind),
		Title:           o.title,
		Message:         o.message,
		TargetUser:      o.user,
		TargetDeviceIDs: o.devices,
	}
	if o.data != "" {
		if !json.Valid([]byte(o.data)) {
			return req, errors.New("--data must be valid JSON")
		}
		req.Data = json.RawMessage(o.data)
	}
	return req, req.Validate()
}

func newSendCmd(root *rootOptions) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Dispatch one notification and print the result",
		Example: `  signalpush send --type alert --title "BTC" --message "Breakout above 70k" --user u1
  signalpush send --type announcement --title "Maintenance" --message "Tonight 22:00 UTC"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// reject bad input before touching the database
			req, err := opts.request()
			if err != nil {
				return fmt.Errorf("invalid notification: %w", err)
			}

			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.Dispatch.Dispatch(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVar(&opts.kind, "type", string(model.KindAnnouncement), "notification kind: signal, achievement, announcement or alert")
	cmd.Flags().StringVar(&opts.title, "title", "", "notification title")
	cmd.Flags().StringVar(&opts.message, "message", "", "notification body")
	cmd.Flags().StringVar(&opts.data, "data", "", "JSON payload attached for the client")
	cmd.Flags().StringVar(&opts.user, "user", "", "deliver only to this user id")
	cmd.Flags().StringSliceVar(&opts.devices, "device", nil, "deliver only to these device ids (ignored with --user)")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
