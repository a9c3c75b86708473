package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RemoteID is an identifier assigned by the CRM.
//
// The CRM issues numeric ids; RemoteID keeps them as strings internally and
// marshals digit-only values back to JSON numbers so they can be sent as
// foreign keys (company_id, contact_ids).
type RemoteID string

// IsZero reports whether the id is unset.
func (id RemoteID) IsZero() bool { return id == "" }

func (id RemoteID) String() string { return string(id) }

// MarshalJSON encodes canonical integers as numbers and everything else,
// including zero-padded or signed forms like "007" and "+5", as strings.
func (id RemoteID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if id.numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// numeric reports whether the id reads back as the same JSON integer.
func (id RemoteID) numeric() bool {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return err == nil && strconv.FormatInt(n, 10) == string(id)
}

// UnmarshalJSON accepts a JSON number, string, or null.
func (id *RemoteID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("remote id: %w", err)
		}
		*id = RemoteID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("remote id: %w", err)
	}
	*id = RemoteID(n.String())
	return nil
}
