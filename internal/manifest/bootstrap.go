package manifest

import (
	"bytes"
	"fmt"

	"github.com/modvault/modvault/internal/chunk"
)

// bootstrapGlobal is the property the bootstrap artifact assigns the
// manifest to. The runtime reads it back from the page's global scope; it
// is the only channel through which build output reaches the runtime.
const bootstrapGlobal = "__MODVAULT_MANIFEST__"

// EmbedBootstrap serializes the manifest into the runtime bootstrap
// artifact: a self-contained script that publishes the manifest once per
// page navigation. The manifest is embedded, not fetched, so the runtime
// has its full dependency picture before any module resolution begins.
func EmbedBootstrap(m *chunk.Manifest) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	data, err := m.Encode()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("/* generated by modvault; do not edit */\n")
	fmt.Fprintf(&buf, "globalThis.%s = ", bootstrapGlobal)
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString(";\n")
	return buf.Bytes(), nil
}
