package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Rules bound the inbound payload fields the dispatcher accepts. Zero
// values fall back to the defaults below.
type Rules struct {
	MaxContentBytes int
	MaxEmojiRunes   int
	MaxIDLen        int
}

const (
	defaultMaxContentBytes = 64 * 1024
	defaultMaxEmojiRunes   = 32
	defaultMaxIDLen        = 128
)

var rules = Rules{}

// SetRules installs the active validation rules. Call once at startup.
func SetRules(r Rules) { rules = r }

func maxContent() int {
	if rules.MaxContentBytes > 0 {
		return rules.MaxContentBytes
	}
	return defaultMaxContentBytes
}

func maxEmoji() int {
	if rules.MaxEmojiRunes > 0 {
		return rules.MaxEmojiRunes
	}
	return defaultMaxEmojiRunes
}

func maxID() int {
	if rules.MaxIDLen > 0 {
		return rules.MaxIDLen
	}
	return defaultMaxIDLen
}

// ValidateContent checks a message body: non-blank, valid UTF-8, bounded.
func ValidateContent(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("content is required")
	}
	if !utf8.ValidString(s) {
		return errors.New("content is not valid UTF-8")
	}
	if len(s) > maxContent() {
		return fmt.Errorf("content exceeds %d bytes", maxContent())
	}
	return nil
}

// ValidateEmoji checks a reaction emoji string.
func ValidateEmoji(s string) error {
	if s == "" {
		return errors.New("emoji is required")
	}
	if !utf8.ValidString(s) {
		return errors.New("emoji is not valid UTF-8")
	}
	if utf8.RuneCountInString(s) > maxEmoji() {
		return fmt.Errorf("emoji exceeds %d runes", maxEmoji())
	}
	return nil
}

// ValidateID checks an identifier field (channel, message, user ids).
func ValidateID(name, s string) error {
	if s == "" {
		return fmt.Errorf("%s is required", name)
	}
	if len(s) > maxID() {
		return fmt.Errorf("%s exceeds %d bytes", name, maxID())
	}
	if strings.ContainsAny(s, " \t\r\n:") {
		return fmt.Errorf("%s contains invalid characters", name)
	}
	return nil
}
