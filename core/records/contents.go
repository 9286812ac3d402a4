package records

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// PlaylistTrack is one entry in a playlist's ordered content list. Time is
// the moment the (track, MetadataTime) pair was first indexed; MetadataTime
// is the submitter-supplied timestamp from the metadata payload.
type PlaylistTrack struct {
	TrackID      int64 `json:"track"`
	Time         int64 `json:"time"`
	MetadataTime int64 `json:"metadata_time"`
}

// PlaylistContents serializes the ordered track list as JSON text.
type PlaylistContents []PlaylistTrack

func (c PlaylistContents) Value() (driver.Value, error) {
	if c == nil {
		c = PlaylistContents{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *PlaylistContents) Scan(src any) error {
	if src == nil {
		*c = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("playlist contents: cannot scan %T", src)
	}
	if len(data) == 0 {
		*c = nil
		return nil
	}
	return json.Unmarshal(data, c)
}

// IDList serializes a node id list as JSON text.
type IDList []uint64

func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		l = IDList{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *IDList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("id list: cannot scan %T", src)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, l)
}

// Equal reports element-wise equality in order.
func (l IDList) Equal(other IDList) bool {
	if len(l) != len(other) {
		return false
	}
	for i := range l {
		if l[i] != other[i] {
			return false
		}
	}
	return true
}
