package api

import (
	"encoding/base64"
	"fmt"
	"strings"

	"example.com/presence/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// encodeCursor serialises the position after subjectID to a token.
func encodeCursor(groupID, subjectID string) string {
	if subjectID == "" {
		return ""
	}
	raw := fmt.Sprintf("%s|%s", groupID, subjectID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor parses a token minted for groupID and returns the subject to resume after.
func decodeCursor(groupID, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", fmt.Errorf("invalid cursor format")
	}
	if parts[0] != groupID {
		return "", fmt.Errorf("cursor belongs to another group")
	}
	return parts[1], nil
}

// page returns up to limit records after the subject named by after, and the subject to
// resume from when more remain. records must be ordered by subject id.
func page(records []domain.ActivityRecord, after string, limit int) ([]domain.ActivityRecord, string) {
	start := 0
	if after != "" {
		for start < len(records) && records[start].SubjectID <= after {
			start++
		}
	}
	end := start + limit
	if end >= len(records) {
		return records[start:], ""
	}
	return records[start:end], records[end-1].SubjectID
}
