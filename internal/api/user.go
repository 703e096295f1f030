package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Profile returns the logged-in user's profile.
func (c *Client) Profile(ctx context.Context) (json.RawMessage, error) {
	data, err := c.getJSON(ctx, "user/profile", nil)
	if err != nil {
		return nil, err
	}

	return json.RawMessage(data), nil
}

// UserUpdate holds profile fields to change. Nil fields are not sent.
type UserUpdate struct {
	FirstName    *string
	LastName     *string
	MobileNumber *string
}

// UpdateUser changes profile fields and returns the "user" object from the
// reply, or the whole reply when it has none.
func (c *Client) UpdateUser(ctx context.Context, userID string, u UserUpdate) (json.RawMessage, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	var fields []field

	for _, f := range []struct {
		name  string
		value *string
	}{
		{"first_name", u.FirstName},
		{"last_name", u.LastName},
		{"mobile_number", u.MobileNumber},
	} {
		if f.value != nil {
			fields = append(fields, field{name: f.name, value: *f.value})
		}
	}

	body, contentType, err := encodeMultipart(fields, nil)
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, &request{
		method:      http.MethodPost,
		path:        fmt.Sprintf("users/%s/update", url.PathEscape(userID)),
		body:        body,
		contentType: contentType,
	})
	if err != nil {
		return nil, err
	}

	var reply struct {
		User json.RawMessage `json:"user"`
	}

	if err := json.Unmarshal(data, &reply); err == nil && len(reply.User) > 0 && string(reply.User) != "null" {
		return reply.User, nil
	}

	return json.RawMessage(data), nil
}
