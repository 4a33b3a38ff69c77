package ir

import "fmt"

// RemoteUpdate is a request to the host's record-update endpoint. Fields
// carries only the changed field(s).
type RemoteUpdate struct {
	AppID    string `json:"app"`
	RecordID string `json:"id"`
	Fields   Record `json:"record"`
}

// Key returns the content-addressed key of the update. Two updates with the
// same target and field values share a key, so repeated sends are recognisable.
func (u RemoteUpdate) Key() (string, error) {
	return UpdateKey(u.AppID, u.RecordID, u.Fields)
}

// Validate checks that the update is addressable and non-empty.
func (u RemoteUpdate) Validate() error {
	if u.AppID == "" {
		return fmt.Errorf("update: app id is required")
	}
	if u.RecordID == "" {
		return fmt.Errorf("update: record id is required")
	}
	if len(u.Fields) == 0 {
		return fmt.Errorf("update: at least one field is required")
	}
	return nil
}

// UpdateResult is the outcome of one remote write.
type UpdateResult struct {
	// Revision is the record revision reported by the host on success.
	Revision string
	// Status is the HTTP status code, 0 if no response was received.
	Status int
	// Err is nil on success.
	Err error
}

// OK reports whether the write succeeded.
func (r UpdateResult) OK() bool {
	return r.Err == nil
}

// Succeeded returns a successful result.
func Succeeded(revision string, status int) UpdateResult {
	return UpdateResult{Revision: revision, Status: status}
}

// Failed returns a failed result.
func Failed(status int, err error) UpdateResult {
	return UpdateResult{Status: status, Err: err}
}
