package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/gattd/internal/bledb"
	"github.com/srg/gattd/internal/export"
	"github.com/srg/gattd/pkg/config"
	"github.com/srg/gattd/pkg/gatt"
)

// treeCmd represents the tree command
var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the attribute tree a configuration exports",
	Long: `Builds the attribute tree from --config (or the demo tree when no config is
given) without touching the bus and prints every object with its UUID, flags
and well-known name, followed by the advertisement when it is enabled.
--json prints the D-Bus properties of every object.`,
	Args: cobra.NoArgs,
	RunE: runTree,
}

var (
	treeConfigPath string
	treeJSON       bool
	treeNoColor    bool
)

func init() {
	treeCmd.Flags().StringVarP(&treeConfigPath, "config", "c", "", "Path to the YAML configuration")
	treeCmd.Flags().BoolVar(&treeJSON, "json", false, "Output as JSON")
	treeCmd.Flags().BoolVar(&treeNoColor, "no-color", false, "Disable colored output")
}

func runTree(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	specs := exampleServices(io.Discard)
	if treeConfigPath != "" {
		var err error
		if cfg, err = config.Load(treeConfigPath); err != nil {
			return err
		}
		if specs, err = cfg.Specs(nil); err != nil {
			return err
		}
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	tree, err := gatt.Build(cfg.Root, specs...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if treeJSON {
		data, err := json.MarshalIndent(export.Snapshot(tree, nil), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	if treeNoColor {
		color.NoColor = true
	}
	printTree(out, tree)
	if cfg.Advertisement.Enabled {
		printAdvertisement(out, cfg)
	}
	return nil
}

var (
	pathColor = color.New(color.FgCyan, color.Bold)
	uuidColor = color.New(color.FgYellow)
	nameColor = color.New(color.FgGreen)
)

func printTree(out io.Writer, tree *gatt.Tree) {
	fmt.Fprintln(out, pathColor.Sprint(tree.Root()))
	for _, svc := range tree.Services() {
		kind := "primary"
		if !svc.Primary() {
			kind = "secondary"
		}
		printNode(out, 1, svc.Name(), svc.UUID(), kind, bledb.LookupService(svc.UUID()))
		for _, c := range svc.Characteristics() {
			printNode(out, 2, c.Name(), c.UUID(), flagList(c.Flags()), bledb.LookupCharacteristic(c.UUID()))
			for _, d := range c.Descriptors() {
				printNode(out, 3, d.Name(), d.UUID(), flagList(d.Flags()), bledb.LookupDescriptor(d.UUID()))
			}
		}
	}
}

func printAdvertisement(out io.Writer, cfg *config.Config) {
	ac := cfg.Advertisement
	fmt.Fprintf(out, "advertisement  %s  %s\n", pathColor.Sprint(cfg.AdvertisementPath()), ac.Type)
	if ac.LocalName != "" {
		fmt.Fprintf(out, "  local_name  %s\n", ac.LocalName)
	}
	if ac.Appearance != 0 {
		line := fmt.Sprintf("  appearance  0x%04x", ac.Appearance)
		if known := bledb.LookupAppearanceCode(ac.Appearance); known != "" {
			line += "  " + nameColor.Sprint(known)
		}
		fmt.Fprintln(out, line)
	}
	for _, u := range bledb.NormalizeUUIDs(ac.ServiceUUIDs) {
		printNode(out, 1, "service", u, "", bledb.LookupService(u))
	}
}

func printNode(out io.Writer, depth int, name, uuid, detail, known string) {
	line := fmt.Sprintf("%s%s  %s", strings.Repeat("  ", depth), name, uuidColor.Sprint(uuid))
	if detail != "" {
		line += "  " + detail
	}
	if known != "" {
		line += "  " + nameColor.Sprint(known)
	}
	fmt.Fprintln(out, line)
}

func flagList(f gatt.Flags) string {
	return "[" + strings.Join(f.Strings(), " ") + "]"
}
