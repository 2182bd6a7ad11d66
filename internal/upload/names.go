package upload

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SanitizeName returns "<unix-ms>_<8 hex>" plus the original extension, so
// the server never sees a user-chosen name.
func SanitizeName(original string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(original))
	if strings.ContainsAny(ext, `/\ `) || len(ext) > 8 {
		ext = ""
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d_%s%s", now.UnixMilli(), suffix, ext)
}
