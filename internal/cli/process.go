package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quietvoice/prism/internal/engine"
)

var processCmd = &cobra.Command{
	Use:   "process <user-id> <message>",
	Short: "Run one message through the engine",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runProcess,
}

func runProcess(cmd *cobra.Command, args []string) error {
	userID := args[0]
	message := strings.Join(args[1:], " ")

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

	result, err := eng.ProcessMessage(context.Background(), userID, message)
	if err != nil {
		return err
	}

	if result.RequiresClarification {
		fmt.Printf("confidence %.2f, clarification needed:\n  %s\n",
			result.Extraction.Confidence, result.ClarificationQuestion)
		return nil
	}

	if result.MentionOf != "" {
		fmt.Printf("matched existing incident %s (mention recorded)\n", result.MentionOf)
		if result.Escalated {
			fmt.Println("  escalated to long_term")
		}
		if result.Resurged != nil {
			fmt.Printf("  resurged: relevance %.1f -> %.1f\n",
				result.Resurged.RelevanceBefore, result.Resurged.RelevanceAfter)
		}
		return nil
	}

	inc := result.Incident
	fmt.Printf("incident %s\n", inc.IncidentID)
	fmt.Printf("  layer:        %s\n", inc.StateLayer)
	fmt.Printf("  significance: %.1f (P=%.1f R=%.1f I=%d S=%.1f M=%.1f)\n",
		inc.Significance, inc.Persistence, inc.Resonance, inc.Impact, inc.Severity, inc.Malleability)
	fmt.Printf("  confidence:   %.2f\n", inc.Confidence)
	if len(inc.Domains) > 0 {
		fmt.Printf("  domains:      %s\n", strings.Join(inc.Domains, ", "))
	}
	if result.Compounded != nil {
		fmt.Printf("  compounded from %d recent incidents in %s\n",
			len(result.Compounded.SourceIncidentIDs), result.Compounded.Domain)
	}
	return nil
}
