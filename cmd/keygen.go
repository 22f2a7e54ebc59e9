/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/fileshare/apiserver/config"
	"github.com/fileshare/apiserver/internal/codec"
	"github.com/spf13/cobra"
)

var keyFile string

// keygenCmd creates the download token encryption key ahead of first start.
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the encryption key file if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := keyFile
		if path == "" {
			path = config.LoadConfig().Codec.KeyFile
		}

		_, created, err := codec.LoadOrCreateKey(path)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "created encryption key at %s\n", path)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "encryption key already present at %s\n", path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVar(&keyFile, "file", "", "key file path (default ENCRYPTION_KEY_FILE)")
}
