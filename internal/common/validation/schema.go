// Package validation holds address format checks and the notification job schema.
package validation

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	emailPattern       = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern       = regexp.MustCompile(`^\+?[\d\s\-\(\)]{10,}$`)
	deviceTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_:\-\.]{8,4096}$`)
)

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidateEmails returns the addresses that fail ValidateEmail.
func ValidateEmails(emails []string) []string {
	var invalid []string
	for _, e := range emails {
		if !ValidateEmail(e) {
			invalid = append(invalid, e)
		}
	}
	return invalid
}

// ValidatePhone validates basic phone number format
func ValidatePhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// ValidateDeviceToken accepts APNs hex tokens and FCM registration tokens.
func ValidateDeviceToken(token string) bool {
	return deviceTokenPattern.MatchString(token)
}

// ValidateURL validates an absolute http(s) URL with a host.
func ValidateURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}
