// Package calc is the arithmetic capability server.
package calc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/internal/mcp"
)

// Upper bounds keep big-number tools from running away.
const (
	maxFactorial = 1000
	maxFibonacci = 1000
	maxExponent  = 4096
)

var (
	intSchema    = map[string]any{"type": "integer"}
	numberSchema = map[string]any{"type": "number"}
	pairSchema   = mcp.ObjectSchema(map[string]any{"a": intSchema, "b": intSchema}, "a", "b")
)

// NewServer returns a server with every arithmetic tool registered.
func NewServer(version string, logger *zap.Logger) *mcp.Server {
	srv := mcp.NewServer("math", version, mcp.WithServerLogger(logger))
	Register(srv)
	return srv
}

// Register adds the arithmetic tools to srv.
func Register(srv *mcp.Server) {
	srv.Register(mcp.Tool{Name: "add", Description: "Add two integers.", InputSchema: pairSchema}, binary(exact((*big.Int).Add)))
	srv.Register(mcp.Tool{Name: "subtract", Description: "Subtract the second integer from the first.", InputSchema: pairSchema}, binary(exact((*big.Int).Sub)))
	srv.Register(mcp.Tool{Name: "multiply", Description: "Multiply two integers.", InputSchema: pairSchema}, binary(exact((*big.Int).Mul)))
	srv.Register(mcp.Tool{Name: "divide", Description: "Divide the first integer by the second.", InputSchema: pairSchema}, binary(divide))
	srv.Register(mcp.Tool{Name: "power", Description: "Raise the first integer to the power of the second.", InputSchema: pairSchema}, binary(power))
	srv.Register(mcp.Tool{Name: "remainder", Description: "Remainder of dividing the first integer by the second.", InputSchema: pairSchema}, binary(remainder))
	srv.Register(mcp.Tool{
		Name:        "factorial",
		Description: "Factorial of a non-negative integer.",
		InputSchema: mcp.ObjectSchema(map[string]any{"n": intSchema}, "n"),
	}, factorial)
	srv.Register(mcp.Tool{
		Name:        "cbrt",
		Description: "Cube root of a number.",
		InputSchema: mcp.ObjectSchema(map[string]any{"a": numberSchema}, "a"),
	}, cbrt)
	srv.Register(mcp.Tool{
		Name:        "fibonacci_numbers",
		Description: "The first n Fibonacci numbers, starting at 0.",
		InputSchema: mcp.ObjectSchema(map[string]any{"n": intSchema}, "n"),
	}, fibonacci)
	srv.Register(mcp.Tool{
		Name:        "strings_to_chars_to_int",
		Description: "Code point of every character in a string.",
		InputSchema: mcp.ObjectSchema(map[string]any{"string": map[string]any{"type": "string"}}, "string"),
	}, charCodes)
	srv.Register(mcp.Tool{
		Name:        "int_list_to_exponential_sum",
		Description: "Sum of e raised to each integer in a list.",
		InputSchema: mcp.ObjectSchema(map[string]any{"numbers": map[string]any{"type": "array", "items": intSchema}}, "numbers"),
	}, expSum)
}

func binary(fn func(a, b int64) (any, error)) mcp.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		a, err := requireInt(args, "a")
		if err != nil {
			return nil, err
		}
		b, err := requireInt(args, "b")
		if err != nil {
			return nil, err
		}
		return fn(a, b)
	}
}

// exact applies op on big integers so results never wrap.
func exact(op func(z, x, y *big.Int) *big.Int) func(a, b int64) (any, error) {
	return func(a, b int64) (any, error) {
		return op(new(big.Int), big.NewInt(a), big.NewInt(b)), nil
	}
}

func requireInt(args map[string]any, key string) (int64, error) {
	f, err := mcp.RequireFloat(args, key)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return int64(f), nil
}

func divide(a, b int64) (any, error) {
	if b == 0 {
		return nil, errors.New("division by zero")
	}
	return float64(a) / float64(b), nil
}

// remainder follows floored division, so the sign matches the divisor.
func remainder(a, b int64) (any, error) {
	if b == 0 {
		return nil, errors.New("division by zero")
	}
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r, nil
}

func power(a, b int64) (any, error) {
	if b < 0 {
		if a == 0 {
			return nil, errors.New("zero cannot be raised to a negative power")
		}
		return math.Pow(float64(a), float64(b)), nil
	}
	if b > maxExponent {
		return nil, fmt.Errorf("exponent exceeds %d", maxExponent)
	}
	return new(big.Int).Exp(big.NewInt(a), big.NewInt(b), nil), nil
}

func factorial(ctx context.Context, args map[string]any) (any, error) {
	n, err := requireInt(args, "n")
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.New("factorial of a negative number")
	}
	if n > maxFactorial {
		return nil, fmt.Errorf("n exceeds %d", maxFactorial)
	}
	out := big.NewInt(1)
	for i := int64(2); i <= n; i++ {
		out.Mul(out, big.NewInt(i))
	}
	return out, nil
}

func cbrt(ctx context.Context, args map[string]any) (any, error) {
	a, err := mcp.RequireFloat(args, "a")
	if err != nil {
		return nil, err
	}
	return math.Cbrt(a), nil
}

func fibonacci(ctx context.Context, args map[string]any) (any, error) {
	n, err := requireInt(args, "n")
	if err != nil {
		return nil, err
	}
	if n > maxFibonacci {
		return nil, fmt.Errorf("n exceeds %d", maxFibonacci)
	}
	out := make([]*big.Int, 0, max(n, 0))
	a, b := big.NewInt(0), big.NewInt(1)
	for i := int64(0); i < n; i++ {
		out = append(out, new(big.Int).Set(a))
		a.Add(a, b)
		a, b = b, a
	}
	return out, nil
}

func charCodes(ctx context.Context, args map[string]any) (any, error) {
	s, ok := args["string"].(string)
	if !ok {
		return nil, errors.New("string must be a string")
	}
	out := make([]int, 0, len(s))
	for _, r := range s {
		out = append(out, int(r))
	}
	return out, nil
}

func expSum(ctx context.Context, args map[string]any) (any, error) {
	raw, ok := args["numbers"].([]any)
	if !ok {
		return nil, errors.New("numbers must be an array")
	}
	var sum float64
	for i, v := range raw {
		f, ok := mcp.AsFloat(v)
		if !ok || f != math.Trunc(f) {
			return nil, fmt.Errorf("numbers[%d] must be an integer", i)
		}
		sum += math.Exp(f)
	}
	if math.IsInf(sum, 0) {
		return nil, errors.New("sum overflows")
	}
	return sum, nil
}
