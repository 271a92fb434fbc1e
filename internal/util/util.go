package util

import (
	"os"
	"regexp"
	"strings"
)

// windowsEnvRegex matches Windows-style %VAR% references.
var windowsEnvRegex = regexp.MustCompile(`%([A-Za-z0-9_]+)%`)

// ExpandEnvUniversal expands environment variables ($VAR, ${VAR}, %VAR%).
// Variables that are not found are replaced with an empty string.
func ExpandEnvUniversal(s string) string {
	unixExpanded := os.ExpandEnv(s)
	return windowsEnvRegex.ReplaceAllStringFunc(unixExpanded, func(match string) string {
		varName := match[1 : len(match)-1]
		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		return ""
	})
}

// --- Credential/Sensitive Data Masking ---

// sensitiveKeysRegex identifies keys that likely carry secrets (case-insensitive).
var sensitiveKeysRegex = regexp.MustCompile(`(?i)password|passwort|secret|token|auth|credential|pwd`)

// phoneKeysRegex identifies phone number columns (case-insensitive).
var phoneKeysRegex = regexp.MustCompile(`(?i)phone|telefon|mobil|handy|fax`)

// emailRegex is deliberately loose; it only decides whether a cell gets masked in logs.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)

// phoneVisibleDigits is the number of trailing digits MaskPhone keeps.
const phoneVisibleDigits = 3

const (
	// maskedValue is the standard replacement string for masked data.
	maskedValue = "********"
)

// MaskCredentials masks the password part of a URI string such as a
// postgres:// connection string. Strings that are not URIs with a password
// are returned unchanged.
func MaskCredentials(uri string) string {
	schemeSeparator := "://"
	schemeIndex := strings.Index(uri, schemeSeparator)
	if schemeIndex == -1 {
		return uri
	}
	scheme := uri[:schemeIndex]
	rest := uri[schemeIndex+len(schemeSeparator):]

	// The last '@' separates userinfo from the host part.
	lastAt := strings.LastIndex(rest, "@")
	if lastAt == -1 {
		return uri
	}
	userInfo := rest[:lastAt]
	hostAndBeyond := rest[lastAt+1:]

	firstColon := strings.Index(userInfo, ":")
	if firstColon == -1 {
		return uri
	}
	user := userInfo[:firstColon]
	return scheme + schemeSeparator + user + ":" + maskedValue + "@" + hostAndBeyond
}

// MaskEmail keeps the first character of the local part and the domain:
// "jane@acme.test" becomes "j***@acme.test".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return email
	}
	local := []rune(email[:at])
	return string(local[0]) + "***" + email[at:]
}

// MaskPhone replaces every digit except the last three with '*', keeping
// separators: "+49 30 1234567" becomes "+** ** ****567".
func MaskPhone(phone string) string {
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	out := []rune(phone)
	for i, r := range out {
		if r < '0' || r > '9' {
			continue
		}
		if digits > phoneVisibleDigits {
			out[i] = '*'
		}
		digits--
	}
	return string(out)
}

// MaskSensitiveData returns a copy of a spreadsheet row that is safe to log:
// values under secret-looking keys are replaced, URI passwords are masked,
// e-mail addresses are shortened and phone columns keep their last digits. Nested maps are handled recursively.
func MaskSensitiveData(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	maskedMap := make(map[string]interface{}, len(data))
	for key, value := range data {
		isSensitiveKey := sensitiveKeysRegex.MatchString(key)

		switch v := value.(type) {
		case map[string]interface{}:
			maskedMap[key] = MaskSensitiveData(v)
		case string:
			switch {
			case isSensitiveKey:
				maskedMap[key] = maskedValue
			case strings.Contains(v, "://"):
				maskedMap[key] = MaskCredentials(v)
			case phoneKeysRegex.MatchString(key):
				maskedMap[key] = MaskPhone(v)
			case emailRegex.MatchString(strings.TrimSpace(v)):
				maskedMap[key] = MaskEmail(strings.TrimSpace(v))
			default:
				maskedMap[key] = v
			}
		default:
			if isSensitiveKey {
				maskedMap[key] = maskedValue
			} else {
				maskedMap[key] = v
			}
		}
	}
	return maskedMap
}
