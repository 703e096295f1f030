package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
)

// submittedStatus is the literal the backend expects on case submission.
const submittedStatus = "submited"

// nestedSections are sent as JSON strings inside the multipart body.
var nestedSections = map[string]bool{
	"self_employed":       true,
	"service":             true,
	"residential_details": true,
}

// CaseQuery filters the assigned-case listing.
type CaseQuery struct {
	UserID string
	Bank   string
	Type   string
}

// CaseList is a case listing. Cases holds the list items as returned (bank
// groups or individual cases); Raw is the full response body.
type CaseList struct {
	Cases []json.RawMessage
	Raw   json.RawMessage
}

// EmployeeCases lists the cases assigned to a user.
func (c *Client) EmployeeCases(ctx context.Context, q CaseQuery) (*CaseList, error) {
	if q.UserID == "" {
		return nil, ErrMissingUserID
	}

	params := url.Values{"user_id": {q.UserID}}
	if q.Bank != "" {
		params.Set("bank", q.Bank)
	}

	if q.Type != "" {
		params.Set("type", q.Type)
	}

	data, err := c.getJSON(ctx, "cases/employee-case", params)
	if err != nil {
		return nil, err
	}

	return decodeCaseList(data)
}

// CompletedCases lists a user's completed cases, optionally for one day
// (YYYY-MM-DD).
func (c *Client) CompletedCases(ctx context.Context, userID, date string) (*CaseList, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	params := url.Values{"user_id": {userID}}
	if date != "" {
		params.Set("selectedDate", date)
	}

	data, err := c.getJSON(ctx, "cases/employee-completed-cases", params)
	if err != nil {
		return nil, err
	}

	return decodeCaseList(data)
}

// decodeCaseList accepts a bare array, {"cases": [...]}, or {"data": [...]}.
// Any other shape is an empty list.
func decodeCaseList(data []byte) (*CaseList, error) {
	list := &CaseList{Raw: json.RawMessage(data), Cases: []json.RawMessage{}}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err == nil {
		list.Cases = items
		return list, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("api: decoding case list: %w", err)
	}

	for _, key := range []string{"cases", "data"} {
		if err := json.Unmarshal(wrapped[key], &items); err == nil && items != nil {
			list.Cases = items
			break
		}
	}

	return list, nil
}

// SubmitCase posts a case's form payload as multipart form data. The
// payload must already carry the case identity (id and/or case_id).
func (c *Client) SubmitCase(ctx context.Context, payload map[string]any) (json.RawMessage, error) {
	fields, err := submitFields(payload)
	if err != nil {
		return nil, err
	}

	body, contentType, err := encodeMultipart(fields, nil)
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, &request{
		method:      http.MethodPost,
		path:        "submit-case",
		body:        body,
		contentType: contentType,
	})
	if err != nil {
		return nil, err
	}

	return json.RawMessage(data), nil
}

// submitFields lays out the submission body: id, the submitted marker,
// case_id, then every other key in sorted order. Nested sections are JSON
// strings; empty and null scalars are left out.
func submitFields(payload map[string]any) ([]field, error) {
	fields := make([]field, 0, len(payload)+1)

	if v, ok := scalarValue(payload["id"]); ok {
		fields = append(fields, field{name: "id", value: v})
	}

	fields = append(fields, field{name: "case_status", value: submittedStatus})

	if v, ok := scalarValue(payload["case_id"]); ok {
		fields = append(fields, field{name: "case_id", value: v})
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		if k != "id" && k != "case_id" {
			keys = append(keys, k)
		}
	}

	slices.Sort(keys)

	for _, k := range keys {
		v := payload[k]

		if nestedSections[k] {
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("api: encoding %s: %w", k, err)
			}

			fields = append(fields, field{name: k, value: string(encoded)})

			continue
		}

		s, ok := scalarValue(v)
		if !ok {
			continue
		}

		fields = append(fields, field{name: k, value: s})
	}

	return fields, nil
}

// scalarValue renders v as form text. Null and empty strings report false.
// Arrays and objects are JSON-encoded.
func scalarValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case json.Number:
		return t.String(), t != ""
	case fmt.Stringer:
		s := t.String()
		return s, s != ""
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t), true
		}

		return string(encoded), true
	}
}

// UploadFile is one image in an upload batch.
type UploadFile struct {
	Path      string
	Latitude  *float64
	Longitude *float64
	Accuracy  *float64
	Address   string
}

// UploadRequest is a batch of images for one case.
type UploadRequest struct {
	CaseID string
	Files  []UploadFile
}

// UploadResult is the backend's reply to an upload. ImageIDs is aligned with
// the request's Files; entries are empty when the backend did not report an
// id for that file or the file was not sent.
type UploadResult struct {
	Data     json.RawMessage
	ImageIDs []string
}

// UploadCaseFiles uploads a batch of images in one multipart request with
// the geo-metadata of the first image that has coordinates. Remote
// (http/https) references are skipped; a batch with no local files fails
// with ErrNoFiles.
func (c *Client) UploadCaseFiles(ctx context.Context, in UploadRequest) (*UploadResult, error) {
	var (
		parts []filePart
		sent  []int
	)

	for i, f := range in.Files {
		local := localFiles("files[]", []string{f.Path})
		if len(local) == 0 {
			continue
		}

		parts = append(parts, local[0])
		sent = append(sent, i)
	}

	if len(parts) == 0 {
		return nil, ErrNoFiles
	}

	fields := []field{
		{name: "case_id", value: in.CaseID},
		{name: "type", value: "response"},
	}
	fields = append(fields, geoFields(in.Files)...)

	body, contentType, err := encodeMultipart(fields, parts)
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, &request{
		method:      http.MethodPost,
		path:        "cases/upload-files",
		body:        body,
		contentType: contentType,
		timeout:     c.uploadTimeout,
	})
	if err != nil {
		return nil, err
	}

	res := &UploadResult{ImageIDs: make([]string, len(in.Files))}
	if json.Valid(data) {
		res.Data = json.RawMessage(data)
	}

	for i, id := range extractIDs(data) {
		if i < len(sent) {
			res.ImageIDs[sent[i]] = id
		}
	}

	return res, nil
}

// geoFields returns latitude/longitude (and accuracy/address when known)
// from the first file with both coordinates.
func geoFields(files []UploadFile) []field {
	for _, f := range files {
		if f.Latitude == nil || f.Longitude == nil {
			continue
		}

		out := []field{
			{name: "latitude", value: formatFloat(*f.Latitude)},
			{name: "longitude", value: formatFloat(*f.Longitude)},
		}

		if f.Accuracy != nil {
			out = append(out, field{name: "accuracy", value: formatFloat(*f.Accuracy)})
		}

		if f.Address != "" {
			out = append(out, field{name: "address", value: f.Address})
		}

		return out
	}

	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// extractIDs pulls per-file ids out of an upload response. The backend has
// answered with {"image_ids": [...]}, {"ids": [...]}, {"files": [{id}]},
// and the same shapes nested under "data"; anything else yields nil.
func extractIDs(data []byte) []string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return idList(data)
	}

	for _, key := range []string{"image_ids", "ids", "files", "images"} {
		if ids := idList(obj[key]); len(ids) > 0 {
			return ids
		}
	}

	if nested, ok := obj["data"]; ok {
		return extractIDs(nested)
	}

	return nil
}

// idList decodes an array whose items are ids or objects with an "id".
func idList(raw json.RawMessage) []string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	ids := make([]string, 0, len(items))

	for _, item := range items {
		var obj struct {
			ID json.RawMessage `json:"id"`
		}

		if err := json.Unmarshal(item, &obj); err == nil && len(obj.ID) > 0 {
			item = obj.ID
		}

		ids = append(ids, rawID(item))
	}

	return ids
}

// rawID renders a JSON string or number as an id.
func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}

	return ""
}
