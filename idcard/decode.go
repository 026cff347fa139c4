package idcard

import (
	"fmt"

	"golang.org/x/text/encoding/japanese"
)

// NameLength is the width of the name field in characters.
const NameLength = 16

// Role is the holder category encoded by the role classification.
type Role int

const (
	RoleUnknown Role = iota
	RoleStudent
	RoleFaculty
)

func (r Role) String() string {
	switch r {
	case RoleStudent:
		return "student"
	case RoleFaculty:
		return "faculty"
	default:
		return "unknown"
	}
}

// roles maps each recognised classification to its holder category and identifier width.
var roles = map[string]struct {
	role  Role
	width int
}{
	"01": {RoleStudent, 7},
	"02": {RoleStudent, 7},
	"11": {RoleFaculty, 6},
}

// RoleOf returns the role of a classification code.
func RoleOf(classification string) Role {
	return roles[classification].role
}

// StudentRecord is the decoded content of an ID card.
type StudentRecord struct {
	Classification string `json:"classification"`
	Role           Role   `json:"-"`
	ID             string `json:"student_id"`
	Name           string `json:"name"`
}

// decodeText decodes a block as Shift-JIS and returns its characters.
func decodeText(raw RawBlock) ([]rune, error) {
	text, err := japanese.ShiftJIS.NewDecoder().Bytes(raw[:])
	if err != nil {
		return nil, fmt.Errorf("idcard: decode shift-jis: %w", err)
	}
	return []rune(string(text)), nil
}

// substring returns runes [from, to) clamped to the available characters.
func substring(r []rune, from, to int) string {
	if from > len(r) {
		from = len(r)
	}
	if to > len(r) {
		to = len(r)
	}
	return string(r[from:to])
}

// DecodeIdentifier splits block 0 into the role classification and the identifier, whose width
// depends on the classification. An unrecognised classification fails with *UnknownRoleError.
func DecodeIdentifier(raw RawBlock) (classification, identifier string, err error) {
	text, err := decodeText(raw)
	if err != nil {
		return "", "", err
	}

	classification = substring(text, 0, 2)
	r, ok := roles[classification]
	if !ok {
		return "", "", &UnknownRoleError{Code: classification}
	}
	return classification, substring(text, 2, 2+r.width), nil
}

// DecodeName returns the first NameLength characters of block 1. Padding is kept.
func DecodeName(raw RawBlock) (string, error) {
	text, err := decodeText(raw)
	if err != nil {
		return "", err
	}
	return substring(text, 0, NameLength), nil
}
