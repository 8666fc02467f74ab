package access

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// Persisted session keys. Both are always written and cleared together.
const (
	KeyAccessType     = "accessType"
	KeySelectedSchool = "selectedSchool"
)

// SessionStore persists the access Selection of each session.
type SessionStore interface {
	// Load returns ErrNoSelection when nothing (or only half of a selection) is stored.
	Load(ctx context.Context, sid string) (Selection, error)
	Save(ctx context.Context, sid string, sel Selection) error
	Clear(ctx context.Context, sid string) error
}

// EncodeSelection renders sel as the two persisted keys.
func EncodeSelection(sel Selection) (map[string]string, error) {
	if !sel.AccessType.Valid() {
		return nil, errors.Errorf("invalid access type %q", sel.AccessType)
	}
	if sel.AccessType == AccessSchool && sel.School == nil {
		return nil, errors.New("school access without a school")
	}
	school := []byte("null")
	if sel.AccessType == AccessSchool {
		var err error
		if school, err = json.Marshal(sel.School); err != nil {
			return nil, errors.Wrap(err, "encoding selected school")
		}
	}
	return map[string]string{
		KeyAccessType:     string(sel.AccessType),
		KeySelectedSchool: string(school),
	}, nil
}

// DecodeSelection parses the persisted keys written by EncodeSelection.
func DecodeSelection(fields map[string]string) (Selection, error) {
	accessType, okType := fields[KeyAccessType]
	school, okSchool := fields[KeySelectedSchool]
	if !okType || !okSchool {
		return Selection{}, ErrNoSelection
	}

	sel := Selection{AccessType: AccessType(accessType)}
	switch sel.AccessType {
	case AccessManagement:
		return sel, nil
	case AccessSchool:
		var d *Descriptor
		if err := json.Unmarshal([]byte(school), &d); err != nil {
			return Selection{}, errors.Wrap(err, "decoding selected school")
		}
		if d == nil || d.ID == "" {
			return Selection{}, ErrNoSelection
		}
		sel.School = d
		return sel, nil
	default:
		return Selection{}, errors.Errorf("invalid access type %q", accessType)
	}
}
