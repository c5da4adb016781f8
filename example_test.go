package efiimg_test

import (
	"fmt"
	"log"

	efiimg "github.com/diskfs/go-efiimg"
)

func ExampleBuild() {
	opts := efiimg.DefaultOptions()
	opts.Fat.VolumeLabel = "BOOTDISK"
	opts.GPT.Alignment = 2048
	opts.GPT.Reserve = 2 * efiimg.MiB

	result, err := efiimg.Build("/tmp/kernel.efi", "/tmp/kernel.fat", "/tmp/kernel.gdt", opts)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("partition %d starts at LBA %d\n", result.Disk.PartitionIndex, result.Disk.StartLBA)
}

func ExampleOpen() {
	d, err := efiimg.Open("/tmp/kernel.gdt", efiimg.WithOpenMode(efiimg.ReadOnly))
	if err != nil {
		log.Fatal(err)
	}
	defer d.Close()
	if _, err := d.GetPartitionTable(); err != nil {
		log.Fatal(err)
	}
	fs, err := d.GetFilesystem(1)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(fs.Label())
}
