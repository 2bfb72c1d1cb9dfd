package main

import (
	"fmt"

	"hoard-go/internal/hoard"

	"github.com/spf13/cobra"
)

// tag command
var tagCmd = &cobra.Command{
	Use:   "tag TYPE NAME BACKUP [TAG...]",
	Short: "Tag a backup and set its retention flags",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := hoard.TagRequest{
			Item:   args[1],
			Backup: args[2],
			Tags:   args[3:],
		}
		req.Importance, _ = cmd.Flags().GetString("importance")
		if cmd.Flags().Changed("description") {
			d, _ := cmd.Flags().GetString("description")
			req.Description = &d
		}
		if cmd.Flags().Changed("keep-forever") {
			v, _ := cmd.Flags().GetBool("keep-forever")
			req.KeepForever = &v
		}
		if cmd.Flags().Changed("pin") {
			v, _ := cmd.Flags().GetBool("pin")
			req.Pinned = &v
		}

		a, err := newApp(cmd.Context(), "tag")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.Tag(cmd.Context(), args[0], req)
		if err != nil {
			return err
		}
		printRecordLine(r)
		return nil
	},
}

// tagged command
var taggedCmd = &cobra.Command{
	Use:   "tagged",
	Short: "List protected backups across the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		itemType, _ := cmd.Flags().GetString("type")
		item, _ := cmd.Flags().GetString("item")
		tag, _ := cmd.Flags().GetString("tag")

		a, err := newApp(cmd.Context(), "tagged")
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.Tagged(itemType, item, tag)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No protected backups.")
			return nil
		}
		for _, r := range records {
			fmt.Printf("%-8s %-20s ", r.ItemType, r.ItemName)
			printRecordLine(r)
		}
		return nil
	},
}

func init() {
	tagCmd.Flags().String("importance", "", "critical, high, normal or low")
	tagCmd.Flags().StringP("description", "d", "", "Replace the description")
	tagCmd.Flags().Bool("keep-forever", false, "Never delete this backup (also pins it)")
	tagCmd.Flags().Bool("pin", false, "Protect this backup from retention")

	taggedCmd.Flags().String("type", "", "Only this item type")
	taggedCmd.Flags().String("item", "", "Only this item")
	taggedCmd.Flags().String("tag", "", "Only backups with this tag")

	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(taggedCmd)
}
