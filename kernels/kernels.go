// Package kernels holds the WGSL sources of the device kernels. Sources are
// embedded in the binary and may be replaced by files of the same name in a
// directory.
package kernels

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Resource names.
const (
	PrefixSum   = "prefix_sum.wgsl"
	Convolution = "convolution.wgsl"
)

//go:embed *.wgsl
var embedded embed.FS

// Loader resolves kernel resources by name. With Dir empty it serves the
// embedded copies.
type Loader struct {
	Dir string
}

func (l Loader) Load(name string) (string, error) {
	if l.Dir != "" {
		b, err := os.ReadFile(filepath.Join(l.Dir, name))
		if err != nil {
			return "", fmt.Errorf("kernel %s: %w", name, err)
		}
		return string(b), nil
	}
	b, err := embedded.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("kernel %s: %w", name, err)
	}
	return string(b), nil
}

// Names lists the embedded resources.
func Names() []string {
	entries, _ := fs.Glob(embedded, "*.wgsl")
	sort.Strings(entries)
	return entries
}

// Assemble prepends the compile-time preamble every kernel expects: the
// work-group size constant and the combining function.
func Assemble(source string, workgroup int, combine string) string {
	if combine == "" {
		combine = "fn combine(a: f32, b: f32) -> f32 { return a + b; }"
	}
	return fmt.Sprintf("const WORKGROUP_SIZE: u32 = %du;\n%s\n\n%s", workgroup, combine, source)
}
