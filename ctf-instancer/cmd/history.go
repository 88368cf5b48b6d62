package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kavos113/quickctf/ctf-instancer/archive"
	"github.com/kavos113/quickctf/ctf-instancer/domain"
	"github.com/kavos113/quickctf/ctf-instancer/events/mysqlevents"
)

var (
	historyLimit int
)

type historyLine struct {
	domain.Event
	LogURL string `json:"log_url,omitempty"`
}

var historyCmd = &cobra.Command{
	Use:   "history <user> <challenge>",
	Short: "Print recorded transitions for one instance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := loadEnv()
		if env.DBHost == "" {
			return errors.New("DB_HOST is not set")
		}

		db, err := mysqlevents.Connect(mysqlConfig(env))
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		key := domain.InstanceKey{UserID: args[0], Challenge: args[1]}
		history, err := mysqlevents.NewRecorder(db).History(ctx, key, historyLimit)
		if err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}

		var archiver *archive.S3Archiver
		if env.S3Endpoint != "" {
			archiver, err = archive.NewS3Archiver(ctx, s3Config(env))
			if err != nil {
				return err
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, event := range history {
			line := historyLine{Event: event}
			if archiver != nil && event.State == domain.StateStopped && event.Handle != "" {
				url, err := archiver.LogURL(ctx, key, &domain.Handle{Name: event.Handle})
				if err == nil {
					line.LogURL = url
				}
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of events")
}
