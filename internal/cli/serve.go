package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/riposte/internal/mockapi"
)

var (
	serveAddr        string
	servePolls       int
	serveFinalStatus string
	serveLatency     time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a mock batch API server",
	Long: `Serve starts an in-memory implementation of the batch API surface,
useful for trying riposte without a real deployment. Jobs report a
configurable number of non-terminal statuses before finishing.`,
	Example: `  riposte serve --addr :8080 --polls-until-done 3 --final-status succeeded`,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch serveFinalStatus {
		case "succeeded", "failed-partial", "failed":
		default:
			return fmt.Errorf("invalid --final-status %q", serveFinalStatus)
		}

		srv := mockapi.New(mockapi.Config{
			PollsUntilDone: servePolls,
			FinalStatus:    serveFinalStatus,
			Latency:        serveLatency,
		})
		return srv.ListenAndServe(serveAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().IntVar(&servePolls, "polls-until-done", 3, "Non-terminal polls before a job turns terminal")
	serveCmd.Flags().StringVar(&serveFinalStatus, "final-status", "succeeded", "Terminal job status (succeeded, failed-partial, failed)")
	serveCmd.Flags().DurationVar(&serveLatency, "latency", 0, "Artificial delay added to every request")
}
