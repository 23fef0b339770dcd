package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quietvoice/prism/internal/engine"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run decay, transition and cleanup sweeps once",
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
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

	now := time.Now()
	decayed, err := eng.DecaySweep(now)
	if err != nil {
		return fmt.Errorf("decay sweep: %w", err)
	}
	transitioned, err := eng.TransitionSweep(now)
	if err != nil {
		return fmt.Errorf("transition sweep: %w", err)
	}
	deleted, err := eng.CleanupSweep(now)
	if err != nil {
		return fmt.Errorf("cleanup sweep: %w", err)
	}

	fmt.Printf("decayed:      %d incidents\n", decayed)
	fmt.Printf("transitioned: %d incidents\n", transitioned)
	fmt.Printf("deleted:      %d incidents\n", deleted)
	return nil
}
