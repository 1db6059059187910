package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Manage events",
}

var eventCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an event for a photographer",
	Long: `Create an event owned by a registered photographer and print its code
and guest URL.

Examples:
  event-photos event create --photographer anna@example.com --name "Summer Wedding"
  event-photos event create --photographer anna@example.com --name "Gala" --date 2026-06-20 --qr gala.png`,
	RunE: runEventCreate,
}

var eventListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the events of a photographer",
	RunE:  runEventList,
}

func init() {
	rootCmd.AddCommand(eventCmd)
	eventCmd.AddCommand(eventCreateCmd)
	eventCmd.AddCommand(eventListCmd)

	eventCreateCmd.Flags().String("photographer", "", "Email of the owning photographer")
	eventCreateCmd.Flags().String("name", "", "Event name")
	eventCreateCmd.Flags().String("date", "", "Event date as YYYY-MM-DD (default today)")
	eventCreateCmd.Flags().String("qr", "", "Write the event QR code PNG to this file")
	_ = eventCreateCmd.MarkFlagRequired("photographer")
	_ = eventCreateCmd.MarkFlagRequired("name")

	eventListCmd.Flags().String("photographer", "", "Email of the photographer")
	_ = eventListCmd.MarkFlagRequired("photographer")
}

func runEventCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var date time.Time
	if s := mustGetString(cmd, "date"); s != "" {
		var err error
		date, err = time.Parse(time.DateOnly, s)
		if err != nil {
			return fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", s)
		}
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	owner, err := a.photographers.GetByEmail(ctx, mustGetString(cmd, "photographer"))
	if err != nil {
		return fmt.Errorf("failed to find photographer: %w", err)
	}

	e, err := a.eventSvc.Create(ctx, owner.ID, mustGetString(cmd, "name"), date)
	if err != nil {
		return err
	}

	fmt.Printf("Created event %q\n", e.Name)
	fmt.Printf("  ID:    %s\n", e.ID)
	fmt.Printf("  Code:  %s\n", e.Code)
	fmt.Printf("  Date:  %s\n", e.Date.Format(time.DateOnly))
	fmt.Printf("  Guest: %s\n", a.eventSvc.GuestURL(e.Code))

	if path := mustGetString(cmd, "qr"); path != "" {
		png, err := a.eventSvc.QRCode(ctx, e)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, png, 0o644); err != nil {
			return fmt.Errorf("failed to write QR code: %w", err)
		}
		fmt.Printf("  QR:    %s\n", path)
	}
	return nil
}

func runEventList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	owner, err := a.photographers.GetByEmail(ctx, mustGetString(cmd, "photographer"))
	if err != nil {
		return fmt.Errorf("failed to find photographer: %w", err)
	}

	list, err := a.events.ListByPhotographer(ctx, owner.ID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No events")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tDATE\tPHOTOS\tACTIVE\tNAME")
	for _, e := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n", e.Code, e.Date.Format(time.DateOnly), e.PhotoCount, e.IsActive, e.Name)
	}
	return w.Flush()
}
