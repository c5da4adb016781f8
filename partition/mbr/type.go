package mbr

// Type constants for the MBR partition type byte
type Type byte

// List of common MBR partition types
const (
	Empty            Type = 0x00
	Fat12            Type = 0x01
	Fat16            Type = 0x06
	NTFS             Type = 0x07
	Fat32CHS         Type = 0x0b
	Fat32LBA         Type = 0x0c
	Fat16LBA         Type = 0x0e
	LinuxSwap        Type = 0x82
	Linux            Type = 0x83
	LinuxLVM         Type = 0x8e
	EFIGPTProtective Type = 0xee
	EFISystem        Type = 0xef
)
