// Package capture ingests photos produced by an external camera or gallery
// picker. The picker writes a photo plus an optional JSON sidecar
// (<photo>.json) with its geo-metadata into an intake directory; capture
// attaches each photo to a case and removes the intake copy.
package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/fieldverify/fieldsync/internal/model"
)

// SidecarExt is appended to a photo's file name to find its metadata.
const SidecarExt = ".json"

// unavailableAddress is what pickers write when reverse geocoding failed.
const unavailableAddress = "Location unavailable"

// Sidecar is the geo-metadata written next to a captured photo.
type Sidecar struct {
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
	Address    string   `json:"address,omitempty"`
	CapturedAt string   `json:"captured_at,omitempty"`
	Source     string   `json:"source,omitempty"`
}

// SidecarPath returns the sidecar location for a photo.
func SidecarPath(photoPath string) string {
	return photoPath + SidecarExt
}

// ReadSidecar reads the sidecar of photoPath. It returns nil without error
// when the photo has none.
func ReadSidecar(photoPath string) (*Sidecar, error) {
	data, err := os.ReadFile(SidecarPath(photoPath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // no sidecar
	}

	if err != nil {
		return nil, fmt.Errorf("capture: reading sidecar: %w", err)
	}

	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("capture: decoding sidecar %s: %w", SidecarPath(photoPath), err)
	}

	return &sc, nil
}

// ImageInput converts the sidecar into repository input for the photo at
// uri. The camera always writes a sidecar, so a nil sidecar yields a
// gallery photo without location; a sidecar without a source is a camera
// photo.
func (sc *Sidecar) ImageInput(uri string) (model.ImageInput, error) {
	if sc == nil {
		return model.ImageInput{URI: uri, Source: model.SourceGallery}, nil
	}

	in := model.ImageInput{URI: uri, Source: model.SourceCamera}

	in.Latitude = sc.Latitude
	in.Longitude = sc.Longitude
	in.Accuracy = sc.Accuracy

	if sc.Address != unavailableAddress {
		in.Address = strings.TrimSpace(sc.Address)
	}

	switch model.ImageSource(sc.Source) {
	case "":
	case model.SourceCamera, model.SourceGallery:
		in.Source = model.ImageSource(sc.Source)
	default:
		return in, fmt.Errorf("capture: unknown source %q", sc.Source)
	}

	if sc.CapturedAt != "" {
		at, err := time.Parse(time.RFC3339Nano, sc.CapturedAt)
		if err != nil {
			return in, fmt.Errorf("capture: captured_at %q: %w", sc.CapturedAt, err)
		}

		at = at.UTC()
		in.CapturedAt = &at
	}

	return in, nil
}

// BuildStampText formats the overlay burned into geotagged photos: one line
// each for latitude, longitude and address, then the capture time. It
// returns "" when there is neither a location nor an address.
func BuildStampText(lat, lng *float64, address string, at time.Time) string {
	var lines []string

	if lat != nil && lng != nil && (*lat != 0 || *lng != 0) {
		lines = append(lines,
			fmt.Sprintf("Lat: %.6f", *lat),
			fmt.Sprintf("Lng: %.6f", *lng),
		)
	}

	if address != "" && address != unavailableAddress {
		lines = append(lines, "Addr: "+address)
	}

	if len(lines) == 0 {
		return ""
	}

	lines = append(lines, "Time: "+at.UTC().Format("2006-01-02T15:04:05.000Z"))

	return strings.Join(lines, "\n")
}
