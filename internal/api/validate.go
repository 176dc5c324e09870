package api

import (
	"regexp"
	"unicode/utf8"
)

// maxNameLen is the maximum length for display-name fields.
const maxNameLen = 200

// maxUsernameLen is the maximum length for login names.
const maxUsernameLen = 64

// maxEmailLen is the maximum length for email addresses (RFC 5321).
const maxEmailLen = 254

// maxPasswordLen is the maximum length for passwords.
const maxPasswordLen = 256

// minPasswordLen is the minimum length for new passwords.
const minPasswordLen = 8

// maxFlowDataLen is the maximum length for flow graph JSON (512 KB).
const maxFlowDataLen = 512 * 1024

// emailRe is a basic email format regex. Not exhaustive; validates structure only.
var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// extensionRe validates extension numbers: digits only, 1-20 chars.
var extensionRe = regexp.MustCompile(`^\d{1,20}$`)

// e164Re validates phone numbers in E.164 form.
var e164Re = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// usernameRe validates login names: letters, digits, dot, dash, underscore.
var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9._\-]+$`)

// validateStringLen checks that a string does not exceed maxLen runes.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateRequiredStringLen checks that a non-empty string does not exceed maxLen runes.
func validateRequiredStringLen(field, value string, maxLen int) string {
	if value == "" {
		return field + " is required"
	}
	return validateStringLen(field, value, maxLen)
}

// validateEmail checks that a string is a valid-looking email address.
// Empty values are allowed (optional field).
func validateEmail(field, value string) string {
	if value == "" {
		return ""
	}
	if len(value) > maxEmailLen {
		return field + " exceeds maximum length"
	}
	if !emailRe.MatchString(value) {
		return field + " is not a valid email address"
	}
	return ""
}

// validateExtensionNumber checks that an extension number is digits only.
func validateExtensionNumber(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !extensionRe.MatchString(value) {
		return field + " must contain only digits (max 20)"
	}
	return ""
}

// validateE164 checks that a phone number is in E.164 form (+15551234567).
func validateE164(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !e164Re.MatchString(value) {
		return field + " must be in E.164 format (e.g. +15551234567)"
	}
	return ""
}

// validateUsername checks a login name.
func validateUsername(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if len(value) > maxUsernameLen {
		return field + " exceeds maximum length"
	}
	if !usernameRe.MatchString(value) {
		return field + " may contain only letters, digits, dots, dashes and underscores"
	}
	return ""
}

// validatePassword checks a new password's length bounds.
func validatePassword(field, value string) string {
	if len(value) < minPasswordLen {
		return field + " must be at least 8 characters"
	}
	if len(value) > maxPasswordLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateRole checks the user role field.
func validateRole(field, value string) string {
	if value != "admin" && value != "user" {
		return field + ` must be "admin" or "user"`
	}
	return ""
}
