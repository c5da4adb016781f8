package gpt

// Type constants for the GUID for type of partition, see https://en.wikipedia.org/wiki/GUID_Partition_Table#Partition_entries
type Type string

// List of GUID partition types
const (
	Unused             Type = "00000000-0000-0000-0000-000000000000"
	MbrBoot            Type = "024DEE41-33E7-11D3-9D69-0008C781F39F"
	EFISystemPartition Type = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
	BiosBoot           Type = "21686148-6449-6E6F-744E-656564454649"
	MicrosoftReserved  Type = "E3C9E316-0B5C-4DB8-817D-F92DF00215AE"
	MicrosoftBasicData Type = "EBD0A0A2-B9E5-4433-87C0-68B6B72699C7"
	LinuxFilesystem    Type = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
	LinuxSwap          Type = "0657FD6D-A4AB-43C4-84E5-0933C84B4F4F"
	LinuxLVM           Type = "E6D6D379-F507-44C2-A23C-238F2A3DF928"
	LinuxExtendedBoot  Type = "BC13C2FF-59E6-4262-A352-B275FD6F7172"
	LinuxRootX86_64    Type = "4F68BCE3-E8CD-4DB1-96E7-FBCAF984B709"
	LinuxRootArm64     Type = "B921B045-1DF0-41C3-AF44-4C6F280D3FAE"
	ChromeOSKernel     Type = "FE3A2A5D-4F32-41A7-B725-ACCC3285A309"
	ChromeOSRootfs     Type = "3CB8E202-3B7E-47DD-8A3C-7FF2A13CFCEC"
)

// String returns a human name for well-known types, otherwise the GUID
func (t Type) String() string {
	switch t {
	case EFISystemPartition:
		return "EFI System"
	case BiosBoot:
		return "BIOS boot"
	case MicrosoftBasicData:
		return "Microsoft basic data"
	case LinuxFilesystem:
		return "Linux filesystem"
	case Unused:
		return "unused"
	default:
		return string(t)
	}
}
