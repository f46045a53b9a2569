package utils

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxFilenameLen = 180

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// NewProtocol returns a citizen-facing tracking code: DF-YYYYMMDD-XXXXXXXX.
func NewProtocol(now time.Time) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "DF-" + now.UTC().Format("20060102") + "-" + strings.ToUpper(token[:8])
}

// SafeFilename reduces an uploaded file name to a portable form.
func SafeFilename(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "arquivo"
	}
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	return name
}
