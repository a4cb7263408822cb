package chat

import (
	"dm-relay/errors"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// DefaultMaxContentLength bounds a message body in characters.
const DefaultMaxContentLength = 4000

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// reservedUserIDs collide with fixed History API routes, "/conversations/recent" being the inbox.
var reservedUserIDs = map[string]struct{}{
	"recent": {},
}

func validUserID(id string) bool {
	if _, reserved := reservedUserIDs[id]; reserved {
		return false
	}
	return userIDPattern.MatchString(id)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("userid", func(fl validator.FieldLevel) bool {
		return validUserID(fl.Field().String())
	})
	return v
}

// ValidUserID reports whether id is a syntactically valid user identifier.
// Identifiers never contain ':' which keeps storage keys unambiguous, and never
// shadow a fixed route segment.
func ValidUserID(id UserID) bool {
	return validUserID(string(id))
}

// ValidateSend checks a send command and returns the specific violated constraint.
func ValidateSend(cmd SendMessageCommand, maxContentLength int) error {
	if !ValidUserID(cmd.SenderID) {
		return fmt.Errorf("%w: sender %q", errors.ErrInvalidUserID, cmd.SenderID)
	}
	if !ValidUserID(cmd.ReceiverID) {
		return fmt.Errorf("%w: receiver %q", errors.ErrInvalidUserID, cmd.ReceiverID)
	}
	if cmd.SenderID == cmd.ReceiverID {
		return errors.ErrSelfMessage
	}
	if cmd.Content == "" {
		return errors.ErrEmptyContent
	}
	if utf8.RuneCountInString(cmd.Content) > maxContentLength {
		return fmt.Errorf("%w (%d)", errors.ErrContentTooLong, maxContentLength)
	}
	if err := validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	return nil
}

func ValidateHistory(cmd GetHistoryCommand) error {
	if !ValidUserID(cmd.Self) || !ValidUserID(cmd.Other) {
		return errors.ErrInvalidUserID
	}
	if cmd.Page.Limit != nil && *cmd.Page.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive", errors.ErrValidation)
	}
	return nil
}

func ValidateSearch(cmd SearchCommand) error {
	if !ValidUserID(cmd.Self) || !ValidUserID(cmd.Other) {
		return errors.ErrInvalidUserID
	}
	if err := validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	return nil
}
