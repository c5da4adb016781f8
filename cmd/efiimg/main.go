// Command efiimg turns an EFI executable into a FAT volume and a bootable GPT
// disk image.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
