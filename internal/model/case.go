// Package model defines the domain types shared by the case repository, the
// sync engine, and the CLI: cases, their images, and the aggregate returned
// when a case is loaded.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the local lifecycle state of a case. Server display states such
// as "submitted" or "Completed" are never stored here.
type Status string

// Case lifecycle states.
const (
	StatusDrafted Status = "DRAFTED"
	StatusSyncing Status = "SYNCING"
	StatusSynced  Status = "SYNCED"
	StatusFailed  Status = "FAILED"
)

// Statuses lists every local status in lifecycle order.
var Statuses = []Status{StatusDrafted, StatusSyncing, StatusSynced, StatusFailed}

// ParseStatus converts a string into a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}

	return "", fmt.Errorf("model: unknown case status %q", s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Case is the metadata row for a locally tracked case. ID is the local row
// key and CaseID the server identifier; at least one of them is set.
type Case struct {
	ID              string     `json:"id,omitempty"`
	CaseID          string     `json:"case_id,omitempty"`
	ReferenceNumber string     `json:"reference_number,omitempty"`
	CaseType        string     `json:"case_type,omitempty"`
	Bank            string     `json:"bank,omitempty"`
	Status          Status     `json:"status"`
	CurrentStep     string     `json:"current_step,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	LastSaved       *time.Time `json:"last_saved,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Key returns the identifier used to address the case: the local id when
// present, the server case id otherwise.
func (c Case) Key() string {
	if c.ID != "" {
		return c.ID
	}

	return c.CaseID
}

// ImageSource records where a photo came from.
type ImageSource string

// Image sources.
const (
	SourceCamera  ImageSource = "camera"
	SourceGallery ImageSource = "gallery"
)

// CaseImage is a photo attached to a case, stored under the case directory.
type CaseImage struct {
	ID            int64       `json:"id"`
	CaseRowID     string      `json:"case_row_id"`
	FilePath      string      `json:"file_path"`
	URI           string      `json:"uri"`
	Latitude      *float64    `json:"latitude,omitempty"`
	Longitude     *float64    `json:"longitude,omitempty"`
	Accuracy      *float64    `json:"accuracy,omitempty"`
	Address       string      `json:"address,omitempty"`
	CapturedAt    *time.Time  `json:"captured_at,omitempty"`
	Source        ImageSource `json:"source,omitempty"`
	Synced        bool        `json:"synced"`
	ServerImageID string      `json:"server_image_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// HasCoordinates reports whether both latitude and longitude are known.
func (img CaseImage) HasCoordinates() bool {
	return img.Latitude != nil && img.Longitude != nil
}

// ImageInput describes a photo to attach to a case. URI may carry a file://
// prefix; the source file is copied and never modified.
type ImageInput struct {
	URI        string
	Latitude   *float64
	Longitude  *float64
	Accuracy   *float64
	Address    string
	CapturedAt *time.Time
	Source     ImageSource
}

// CaseData is the aggregate returned by loading a case. FormData is nil when
// no form payload has been saved yet.
type CaseData struct {
	Metadata Case            `json:"metadata"`
	FormData json.RawMessage `json:"form_data,omitempty"`
	Images   []CaseImage     `json:"images"`
}
