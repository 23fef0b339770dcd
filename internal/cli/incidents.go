package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/quietvoice/prism/internal/store"
)

var incidentsLayer string

var incidentsCmd = &cobra.Command{
	Use:   "incidents <user-id>",
	Short: "List a user's tracked incidents",
	Args:  cobra.ExactArgs(1),
	RunE:  runIncidents,
}

func init() {
	incidentsCmd.Flags().StringVar(&incidentsLayer, "layer", "", "filter by state layer")
}

func runIncidents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(&cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	q := store.IncidentQuery{UserID: args[0]}
	if incidentsLayer != "" {
		layer := store.StateLayer(incidentsLayer)
		if !layer.Valid() {
			return fmt.Errorf("unknown layer %q", incidentsLayer)
		}
		q.StateLayers = []store.StateLayer{layer}
	}

	incidents, err := db.QueryIncidents(q)
	if err != nil {
		return err
	}
	if len(incidents) == 0 {
		fmt.Println("no incidents")
		return nil
	}

	for _, inc := range incidents {
		marker := " "
		if inc.StateLayer == store.LayerCrisis {
			marker = "!"
		}
		fmt.Printf("%s %-10s %6.1f  %s  (%s, %d mentions)\n",
			marker, inc.StateLayer, inc.CurrentRelevance, inc.Description,
			humanize.Time(time.UnixMilli(inc.CreatedAt)), inc.MentionCount)
	}
	return nil
}
