package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/psds-microservice/desk-sync/internal/classify"
	"github.com/psds-microservice/desk-sync/internal/config"
	"github.com/psds-microservice/desk-sync/internal/database"
	"github.com/psds-microservice/desk-sync/internal/relay"
	"github.com/psds-microservice/desk-sync/internal/store"
	"github.com/spf13/cobra"
)

var verifyRelayCmd = &cobra.Command{
	Use:   "verify-relay",
	Short: "Check relay credentials and re-announce stored tickets that have no relay topic",
	RunE:  runVerifyRelay,
}

func init() {
	rootCmd.AddCommand(verifyRelayCmd)
}

func runVerifyRelay(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	_ = godotenv.Load("../../.env") // repo root when running from bin/
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	client := relay.NewClient(cfg.RelayBotToken, cfg.RelayGroupID)
	if !client.Enabled() {
		return fmt.Errorf("verify-relay: RELAY_BOT_TOKEN and RELAY_GROUP_ID are not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	botName, err := client.Verify(ctx)
	if err != nil {
		return fmt.Errorf("verify-relay: %w", err)
	}
	log.Printf("verify-relay: ok, bot %q can post to group %s", botName, cfg.RelayGroupID)

	if !cfg.StoreEnabled() {
		log.Println("verify-relay: store not configured, nothing to re-announce")
		return nil
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	st := store.NewClient(db)

	tickets, err := st.ListTickets(ctx)
	if err != nil {
		return fmt.Errorf("list tickets: %w", err)
	}

	announced := 0
	for i := range tickets {
		t := &tickets[i]
		if t.TopicID != 0 {
			continue
		}
		topicID, err := client.CreateTopic(ctx, "Ticket "+t.ID)
		if err != nil {
			log.Printf("verify-relay: ticket %s: create topic: %v", t.ID, err)
			continue
		}
		t.TopicID = topicID
		t.UpdatedAt = time.Now()
		if err := st.UpsertTicket(ctx, t); err != nil {
			log.Printf("verify-relay: ticket %s: persist topic: %v", t.ID, err)
			continue
		}
		if err := client.SendMessage(ctx, topicID, classify.FormatAnnouncement(t.ID, t.CustomerInfo), relay.SystemSender); err != nil {
			log.Printf("verify-relay: ticket %s: announce: %v", t.ID, err)
			continue
		}
		announced++
	}
	log.Printf("verify-relay: done, re-announced %d/%d tickets", announced, len(tickets))
	return nil
}
