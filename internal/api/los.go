package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
)

// LOSDetails is a loan-origination record captured in the field.
type LOSDetails struct {
	LOSNo         string
	BankName      string
	ProductName   string
	ApplicantName string
	Latitude      float64
	Longitude     float64
	CaseType      string
	Note          string
}

// AddLOSDetails submits a loan-origination record.
func (c *Client) AddLOSDetails(ctx context.Context, d LOSDetails) (json.RawMessage, error) {
	payload := map[string]string{
		"losno":         d.LOSNo,
		"bankName":      d.BankName,
		"productName":   d.ProductName,
		"applicantName": d.ApplicantName,
		"latitude":      formatFloat(d.Latitude),
		"longitude":     formatFloat(d.Longitude),
	}

	if d.CaseType != "" {
		payload["case_type"] = d.CaseType
	}

	if d.Note != "" {
		payload["note"] = d.Note
	}

	data, err := c.postJSON(ctx, "los/add-details", payload, false)
	if err != nil {
		return nil, err
	}

	return json.RawMessage(data), nil
}

// UploadLOSFiles attaches photos to a loan-origination record.
func (c *Client) UploadLOSFiles(ctx context.Context, losNo, losDetailID string, paths []string) (json.RawMessage, error) {
	parts := localFiles("files[]", paths)
	if len(parts) == 0 {
		return nil, ErrNoFiles
	}

	var fields []field
	if losNo != "" {
		fields = append(fields, field{name: "losno", value: losNo})
	}

	if losDetailID != "" {
		fields = append(fields, field{name: "los_detail_id", value: losDetailID})
	}

	body, contentType, err := encodeMultipart(fields, parts)
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, &request{
		method:      http.MethodPost,
		path:        "los/upload-files",
		body:        body,
		contentType: contentType,
		timeout:     c.uploadTimeout,
	})
	if err != nil {
		return nil, err
	}

	return json.RawMessage(data), nil
}

// FetchLOSDetails looks up a loan-origination record by number.
func (c *Client) FetchLOSDetails(ctx context.Context, losNo, caseType string) (json.RawMessage, error) {
	if losNo == "" {
		return nil, errors.New("api: LOS number is required")
	}

	params := url.Values{"losno": {losNo}}
	if caseType != "" {
		params.Set("case_type", caseType)
	}

	data, err := c.getJSON(ctx, "los/details", params)
	if err != nil {
		return nil, err
	}

	return json.RawMessage(data), nil
}
