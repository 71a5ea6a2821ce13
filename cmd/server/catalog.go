package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"esp32-facecam/internal/enrollment"
	"esp32-facecam/internal/integrations/goface"

	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Enroll the faces directory and list the resulting labels",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logs, err := setup()
		if err != nil {
			return err
		}
		defer logs.Close()

		engine, err := goface.NewService(cfg.Recognition.ModelsDir)
		if err != nil {
			return fmt.Errorf("failed to initialize face engine: %w", err)
		}
		defer engine.Close()

		enrolled, err := enrollment.Load(cmd.Context(), cfg.Recognition.FacesDir, engine)
		if err != nil {
			return err
		}

		if enrolled.Catalog.Len() == 0 {
			fmt.Printf("No known faces found in %s.\n", cfg.Recognition.FacesDir)
		} else {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "#\tLABEL")
			fmt.Fprintln(w, "-\t-----")
			for i, label := range enrolled.Catalog.Labels() {
				fmt.Fprintf(w, "%d\t%s\n", i+1, label)
			}
			w.Flush()
		}

		if len(enrolled.Skipped) > 0 {
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "SKIPPED\tREASON")
			fmt.Fprintln(w, "-------\t------")
			for _, skip := range enrolled.Skipped {
				fmt.Fprintf(w, "%s\t%s\n", skip.File, skip.Reason)
			}
			w.Flush()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}
