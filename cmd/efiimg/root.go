package main

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	verbose bool
	quiet   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	logger := logrus.New()

	cmd := &cobra.Command{
		Use:   "efiimg",
		Short: "Build bootable disk images from an EFI executable",
		Long: `efiimg places an EFI executable at EFI/BOOT/BOOTX64.EFI on a FAT volume
sized to the next whole MiB, then wraps that volume in a GPT disk image as its
only partition, an EFI System Partition. The image boots in UEFI firmware and
virtual machines without any further tooling.

Commands:
  build      Create <name>.fat and <name>.gdt from <name>.efi
  inspect    Show the partition table and files of an image`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.verbose && opts.quiet {
				return errors.New("--verbose and --quiet cannot be used together")
			}
			logger.SetOutput(cmd.ErrOrStderr())
			switch {
			case opts.verbose:
				logger.SetLevel(logrus.DebugLevel)
			case opts.quiet:
				logger.SetLevel(logrus.ErrorLevel)
			default:
				logger.SetLevel(logrus.InfoLevel)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every step")
	cmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "log errors only")

	cmd.AddCommand(newBuildCmd(logger))
	cmd.AddCommand(newInspectCmd())
	return cmd
}
