package app

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxRoomIDLength   = 64
	maxContentLength  = 4000
	maxNicknameLength = 32
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func validateRoomID(roomID string) (string, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return "", fmt.Errorf("%w: roomId required", ErrValidation)
	}
	if len(roomID) > maxRoomIDLength || !roomIDPattern.MatchString(roomID) {
		return "", fmt.Errorf("%w: roomId must be 1-%d letters, digits, '-' or '_'", ErrValidation, maxRoomIDLength)
	}
	return roomID, nil
}

func validateConnectionID(connectionID string) (string, error) {
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return "", fmt.Errorf("%w: connectionId required", ErrValidation)
	}
	return connectionID, nil
}

func errConnectionNotOpen(connectionID string) error {
	return fmt.Errorf("%w: connection %s is not open", ErrValidation, connectionID)
}

func validateContent(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: content required", ErrValidation)
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return "", fmt.Errorf("%w: content exceeds %d characters", ErrValidation, maxContentLength)
	}
	return content, nil
}

func validateNickname(nickname string) (string, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return "", fmt.Errorf("%w: username required", ErrValidation)
	}
	if utf8.RuneCountInString(nickname) > maxNicknameLength {
		return "", fmt.Errorf("%w: username exceeds %d characters", ErrValidation, maxNicknameLength)
	}
	return nickname, nil
}
