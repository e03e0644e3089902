package email

import "strings"

// RedactEmail masks an address for logging, keeping the first character of
// the local part: "john@gmail.com" becomes "j***@gmail.com". Input without
// an "@" is masked entirely.
func RedactEmail(email string) string {
	if email == "" {
		return ""
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "***"
	}
	if local == "" {
		return "***@" + domain
	}
	return local[:1] + "***@" + domain
}
