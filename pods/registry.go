package pods

import (
	"fmt"
	"sort"
	"sync"
)

// Names of the built-in pods.
const (
	ScanName        = "primitives/scan"
	ReduceName      = "primitives/reduce"
	ConvolutionName = "primitives/convolution"
)

var (
	mu       sync.RWMutex
	registry = map[string]Pod{}
)

func init() {
	Register(ScanPod{})
	Register(ReducePod{})
	Register(ConvolutionPod{})
}

// Register adds p under p.Name(), replacing any earlier pod of that name.
func Register(p Pod) {
	mu.Lock()
	defer mu.Unlock()
	registry[p.Name()] = p
}

func Lookup(name string) (Pod, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Run executes the named pod.
func Run(x *ExecContext, name string, in any) (any, error) {
	p, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPod, name)
	}
	return p.Run(x, in)
}
