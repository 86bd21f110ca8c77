package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calliope-av/showrunner/internal/infrastructure/mqtt"
)

var (
	publishQoS      int
	publishRetained bool
)

var publishCmd = &cobra.Command{
	Use:   "publish <topic> <payload>",
	Short: "Publish a raw MQTT message",
	Long: `Publish sends a single message straight to the broker, bypassing the
daemon entirely. Useful for poking actuators during commissioning or
simulating a button press on the wire:

  showctl publish show/room1/button/start press

Broker settings come from the config file's mqtt section.`,
	Args: cobra.ExactArgs(2),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().IntVar(&publishQoS, "qos", 1, "MQTT QoS level (0-2)")
	publishCmd.Flags().BoolVar(&publishRetained, "retained", false, "Set the retained flag")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	if publishQoS < 0 || publishQoS > 2 {
		return fmt.Errorf("qos must be 0, 1, or 2, got %d", publishQoS)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := mqtt.Connect(cfg.MQTT, "showctl")
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer client.Close()

	topic, payload := args[0], args[1]
	if err := client.Publish(topic, []byte(payload), byte(publishQoS), publishRetained); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}

	fmt.Printf("published %d bytes to %s\n", len(payload), topic)
	return nil
}
