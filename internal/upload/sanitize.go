package upload

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const (
	fallbackName = "download"
	maxVersions  = 10
)

var nameReplacer = strings.NewReplacer(" ", "_", "|", "-")

// SanitizeName converts a display name in to a name which is safe to use as an
// object key. Unicode letters and digits are retained, along with a small set
// of punctuation; everything else is dropped.
func SanitizeName(displayName string) string {
	replaced := nameReplacer.Replace(displayName)

	var sb strings.Builder
	sb.Grow(len(replaced))
	for _, r := range replaced {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("._-[]() ", r) {
			sb.WriteRune(r)
		}
	}

	clean := strings.ReplaceAll(sb.String(), " ", "_")
	if clean == "" {
		return fallbackName
	}

	return clean
}

// splitName splits a name at its final '.', returning the base and the
// extension (including the dot). Names without a '.' have no extension.
func splitName(name string) (string, string) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return name, ""
	}

	return name[:idx], name[idx:]
}

// nextVersionedName finds the first `<base>_v<N><ext>` (N in 1..10) which is not
// present in existing. If every version is taken the unix timestamp is used
// as the suffix instead.
func nextVersionedName(name string, existing map[string]int64, now time.Time) string {
	base, ext := splitName(name)
	for version := 1; version <= maxVersions; version++ {
		candidate := fmt.Sprintf("%s_v%d%s", base, version, ext)
		if _, taken := existing[candidate]; !taken {
			return candidate
		}
	}

	return fmt.Sprintf("%s_%d%s", base, now.Unix(), ext)
}

// isSameSize reports whether the existing object size is within 1% of the
// local file size.
func isSameSize(existing, local int64) bool {
	diff := existing - local
	if diff < 0 {
		diff = -diff
	}

	return float64(diff) <= float64(local)*0.01
}
