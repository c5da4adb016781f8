package efiimg

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sirupsen/logrus"

	"github.com/diskfs/go-efiimg/filesystem/fat32"
	"github.com/diskfs/go-efiimg/partition/gpt"
)

func TestFatOptionsWithDefaults(t *testing.T) {
	ignoreLogger := cmpopts.IgnoreFields(FatOptions{}, "Logger")
	tests := []struct {
		name     string
		in       *FatOptions
		expected *FatOptions
	}{
		{"nil", nil, &FatOptions{VolumeLabel: DefaultVolumeLabel, FATType: fat32.FATAuto}},
		{"empty", &FatOptions{}, &FatOptions{VolumeLabel: DefaultVolumeLabel}},
		{"kept", &FatOptions{VolumeLabel: "BOOT", FATType: fat32.FAT16, VolumeID: 7, PreserveTimes: true}, &FatOptions{VolumeLabel: "BOOT", FATType: fat32.FAT16, VolumeID: 7, PreserveTimes: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.in.withDefaults()
			if diff := cmp.Diff(tt.expected, out, ignoreLogger); diff != "" {
				t.Errorf("withDefaults() mismatch (-want +got):\n%s", diff)
			}
			if out.Logger != logrus.StandardLogger() {
				t.Errorf("logger %v, expected the standard logger", out.Logger)
			}
			if tt.in != nil && out == tt.in {
				t.Error("withDefaults modified its receiver")
			}
		})
	}
}

func TestGPTOptionsWithDefaults(t *testing.T) {
	logger := logrus.New()
	out := (&GPTOptions{Logger: logger, Alignment: 2048}).withDefaults()
	expected := &GPTOptions{
		LogicalBlockSize: 512,
		Reserve:          DefaultReserve,
		PartitionName:    DefaultPartitionName,
		PartitionType:    gpt.EFISystemPartition,
		Alignment:        2048,
		Logger:           logger,
	}
	if diff := cmp.Diff(expected, out, cmpopts.IgnoreFields(GPTOptions{}, "Logger")); diff != "" {
		t.Errorf("withDefaults() mismatch (-want +got):\n%s", diff)
	}
	if out.Logger != logger {
		t.Error("logger replaced")
	}
	if out.Verify {
		t.Error("verification switched on")
	}

	if diff := cmp.Diff(DefaultGPTOptions(), (*GPTOptions)(nil).withDefaults(), cmpopts.IgnoreFields(GPTOptions{}, "Logger")); diff != "" {
		t.Errorf("nil withDefaults() mismatch (-want +got):\n%s", diff)
	}
}

func TestGPTOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*GPTOptions)
		valid  bool
	}{
		{"defaults", func(*GPTOptions) {}, true},
		{"4k", func(o *GPTOptions) { o.LogicalBlockSize = 4096 }, true},
		{"lowercase GUIDs", func(o *GPTOptions) {
			o.DiskGUID = "5ca3360b-5de6-4fcf-b4ce-419cee433b51"
			o.PartitionGUID = "8f1f5c44-9f4b-4e34-9b1d-7b1e6f3a7c21"
		}, true},
		{"2048 blocks", func(o *GPTOptions) { o.LogicalBlockSize = 2048 }, false},
		{"negative reserve", func(o *GPTOptions) { o.Reserve = -512 }, false},
		{"short disk GUID", func(o *GPTOptions) { o.DiskGUID = "5ca3360b" }, false},
		{"garbage partition GUID", func(o *GPTOptions) { o.PartitionGUID = "zzzzzzzz-5de6-4fcf-b4ce-419cee433b51" }, false},
		{"named type", func(o *GPTOptions) { o.PartitionType = "ESP" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultGPTOptions()
			tt.modify(o)
			err := o.validate()
			if tt.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("invalid options accepted")
			}
		})
	}
}
