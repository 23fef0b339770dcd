package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/quietvoice/prism/internal/engine"
)

var contextCmd = &cobra.Command{
	Use:   "context <user-id>",
	Short: "Show the temporal context a conversation should carry",
	Args:  cobra.ExactArgs(1),
	RunE:  runContext,
}

func runContext(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(&cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	eng, err := engine.New(db, &cfg, nil)
	if err != nil {
		return err
	}

	tc, err := eng.BuildContext(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("empathy: %s (tone: %s)\n", tc.EmpathyLevel, tc.SuggestedTone)
	fmt.Printf("state:   %s dominant\n", tc.DominantState)
	if tc.CrisisDetected {
		fmt.Printf("CRISIS:  incident %s\n", tc.CrisisIncidentID)
	}
	if len(tc.SpecialFlags) > 0 {
		fmt.Printf("flags:   %s\n", strings.Join(tc.SpecialFlags, ", "))
	}
	if len(tc.Incidents) == 0 {
		fmt.Println("no active incidents")
		return nil
	}
	fmt.Println()
	for _, inc := range tc.Incidents {
		age := humanize.Time(time.Now().Add(-time.Duration(inc.DaysAgo*24) * time.Hour))
		fmt.Printf("  %-10s %6.1f  %s  (%s)\n", inc.StateLayer, inc.Relevance, inc.Description, age)
	}
	return nil
}
