package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"siphon/internal/bindings"
)

var bindingsCmd = &cobra.Command{
	Use:   "bindings",
	Short: "Inspect stored page bindings",
}

var bindingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored bindings",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := bindings.NewSQLiteStore(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		all, err := store.List()
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Println("no bindings stored")
			return nil
		}
		for _, b := range all {
			fmt.Printf("%-40s v%-3d updated %s\n", b.URLPattern, b.Version, b.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var bindingsShowCmd = &cobra.Command{
	Use:   "show [url-pattern]",
	Short: "Show the bindings stored for a URL pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := bindings.NewSQLiteStore(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		b, err := store.Load(args[0])
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("no bindings for %q", args[0])
		}
		data, err := json.MarshalIndent(b, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var bindingsValidateCmd = &cobra.Command{
	Use:   "validate [file-or-url-pattern]",
	Short: "Validate a bindings JSON file or a stored URL pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := loadBindingsArg(args[0])
		if err != nil {
			return err
		}
		report := bindings.Validate(b)
		for _, w := range report.Warnings {
			fmt.Println("warning:", w)
		}
		for _, e := range report.Errors {
			fmt.Println("error:", e)
		}
		if !report.Valid {
			return fmt.Errorf("bindings for %q are invalid", args[0])
		}
		fmt.Println("ok")
		return nil
	},
}

// loadBindingsArg reads bindings from a JSON file when the argument names
// one, otherwise from the store by URL pattern.
func loadBindingsArg(arg string) (*bindings.PageBindings, error) {
	if _, err := os.Stat(arg); err == nil {
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, err
		}
		var b bindings.PageBindings
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("%s: %w", arg, err)
		}
		return &b, nil
	}

	store, err := bindings.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	b, err := store.Load(arg)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("no bindings for %q", arg)
	}
	return b, nil
}

func init() {
	bindingsCmd.AddCommand(bindingsListCmd)
	bindingsCmd.AddCommand(bindingsShowCmd)
	bindingsCmd.AddCommand(bindingsValidateCmd)
}
