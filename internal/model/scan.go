// Package model contains the domain types shared across packages.
package model

import (
	"fmt"
	"strings"
	"time"
)

// ScanType is the capture modality of a scan.
type ScanType string

const (
	ScanTypeRGB ScanType = "RGB"
)

// ParseScanType validates a scan type. An empty value defaults to RGB.
func ParseScanType(s string) (ScanType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(ScanTypeRGB):
		return ScanTypeRGB, nil
	default:
		return "", fmt.Errorf("scan_type %q: %w", s, ErrInvalidScan)
	}
}

// Region is the anatomical region a scan covers.
type Region string

const (
	RegionFrontal   Region = "Frontal"
	RegionUpperArch Region = "Upper Arch"
	RegionLowerArch Region = "Lower Arch"
)

// Regions lists every accepted region in display order.
var Regions = []Region{RegionFrontal, RegionUpperArch, RegionLowerArch}

// ParseRegion accepts display names ("Upper Arch") and compact forms
// ("UpperArch", "upper_arch") case-insensitively.
func ParseRegion(s string) (Region, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)
	switch key {
	case "frontal":
		return RegionFrontal, nil
	case "upperarch":
		return RegionUpperArch, nil
	case "lowerarch":
		return RegionLowerArch, nil
	default:
		return "", fmt.Errorf("region %q: %w", s, ErrInvalidScan)
	}
}

// ScanFields are the values a capture operator supplies for a new scan.
type ScanFields struct {
	PatientName string   `json:"patientName"`
	PatientID   string   `json:"patientId"`
	ScanType    ScanType `json:"scanType"`
	Region      Region   `json:"region"`
}

// Normalize trims free-text fields and validates the enumerations, naming the
// offending field in the returned error.
func (f ScanFields) Normalize() (ScanFields, error) {
	out := ScanFields{
		PatientName: strings.TrimSpace(f.PatientName),
		PatientID:   strings.TrimSpace(f.PatientID),
	}
	if out.PatientName == "" {
		return ScanFields{}, fmt.Errorf("patient_name is required: %w", ErrInvalidScan)
	}
	if out.PatientID == "" {
		return ScanFields{}, fmt.Errorf("patient_id is required: %w", ErrInvalidScan)
	}
	st, err := ParseScanType(string(f.ScanType))
	if err != nil {
		return ScanFields{}, err
	}
	region, err := ParseRegion(string(f.Region))
	if err != nil {
		return ScanFields{}, err
	}
	out.ScanType = st
	out.Region = region
	return out, nil
}

// ScanDraft is what the repository needs to create a record: the operator's
// fields plus the address of an already uploaded image.
type ScanDraft struct {
	ScanFields
	ImageAddress string
}

// ScanRecord is an immutable scan as stored by the repository.
type ScanRecord struct {
	ID           string    `json:"id"`
	PatientName  string    `json:"patientName"`
	PatientID    string    `json:"patientId"`
	ScanType     ScanType  `json:"scanType"`
	Region       Region    `json:"region"`
	ImageAddress string    `json:"imageAddress"`
	UploadedAt   time.Time `json:"uploadedAt"`
}
