package chunk

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// VirtualPrefix namespaces every virtual identifier. A rewritten specifier
// starting with this prefix is never a resolvable URL or relative path, so
// browser module resolution can only satisfy it through the runtime
// resolution table.
const VirtualPrefix = "modvault:"

// VirtualID derives the virtual identifier for a build-output path.
//
// The derivation is pure and injective: paths are NFC-normalized (so one
// logical path always yields one identifier regardless of the filesystem's
// Unicode form), underscores are escaped before path separators are
// substituted, and the result carries the fixed namespace prefix.
//
// Escaping scheme: "_" -> "_u", "/" -> "_s". Because "_" never survives
// unescaped, the substitution is collision-free: "a/b.js" and "a_sb.js"
// map to distinct identifiers.
func VirtualID(path string) string {
	p := norm.NFC.String(path)
	p = strings.ReplaceAll(p, "_", "_u")
	p = strings.ReplaceAll(p, "/", "_s")
	return VirtualPrefix + p
}

// IsVirtual reports whether s is a virtual identifier.
func IsVirtual(s string) bool {
	return strings.HasPrefix(s, VirtualPrefix)
}

// PathFromVirtualID inverts VirtualID. Returns the build-output path and
// true, or "" and false if id is not a well-formed virtual identifier.
func PathFromVirtualID(id string) (string, bool) {
	if !IsVirtual(id) {
		return "", false
	}
	enc := strings.TrimPrefix(id, VirtualPrefix)

	var b strings.Builder
	b.Grow(len(enc))
	for i := 0; i < len(enc); i++ {
		c := enc[i]
		if c != '_' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(enc) {
			return "", false
		}
		i++
		switch enc[i] {
		case 'u':
			b.WriteByte('_')
		case 's':
			b.WriteByte('/')
		default:
			return "", false
		}
	}
	return b.String(), true
}
