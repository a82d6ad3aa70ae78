package substrate

import (
	"fmt"
	"math"
)

// Operator is the associative combining operation of a scan. Identity must be
// its neutral element: padding slots hold it so they never change a result.
type Operator struct {
	Name     string
	Identity float32
	Combine  func(a, b float32) float32
	// WGSL defines fn combine(a: f32, b: f32) -> f32 for device kernels.
	WGSL string
}

var (
	OpAdd = Operator{
		Name:     "add",
		Identity: 0,
		Combine:  func(a, b float32) float32 { return a + b },
		WGSL:     "fn combine(a: f32, b: f32) -> f32 { return a + b; }",
	}
	OpMul = Operator{
		Name:     "mul",
		Identity: 1,
		Combine:  func(a, b float32) float32 { return a * b },
		WGSL:     "fn combine(a: f32, b: f32) -> f32 { return a * b; }",
	}
	OpMax = Operator{
		Name:     "max",
		Identity: float32(math.Inf(-1)),
		Combine: func(a, b float32) float32 {
			if b > a {
				return b
			}
			return a
		},
		WGSL: "fn combine(a: f32, b: f32) -> f32 { return max(a, b); }",
	}
	OpMin = Operator{
		Name:     "min",
		Identity: float32(math.Inf(1)),
		Combine: func(a, b float32) float32 {
			if b < a {
				return b
			}
			return a
		},
		WGSL: "fn combine(a: f32, b: f32) -> f32 { return min(a, b); }",
	}
)

// ParseOperator maps a config name to an Operator. The empty name is add.
func ParseOperator(name string) (Operator, error) {
	switch name {
	case "", "add", "sum":
		return OpAdd, nil
	case "mul", "product":
		return OpMul, nil
	case "max":
		return OpMax, nil
	case "min":
		return OpMin, nil
	}
	return Operator{}, fmt.Errorf("unknown operator %q", name)
}

// IsIdentity reports whether v is o's neutral element.
func (o Operator) IsIdentity(v float32) bool {
	return v == o.Identity
}
