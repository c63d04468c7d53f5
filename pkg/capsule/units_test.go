package capsule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Declarations in this file are the entry file of the builder tests.

type point struct {
	X, Y int
}

func (p point) sum() int {
	return p.X + p.Y
}

type level int

const (
	levelLow level = iota
	levelHigh
)

var threshold = 10

var origin = point{X: 1, Y: 2}

var timeout = 3 * time.Second

var greeting string = "hello"

func unitAdd(a, b int) int {
	return a + b
}

func unitNoResult(msg string) {
	fmt.Println(msg)
}

func unitMulti(s string) (string, error) {
	if s == "" {
		return "", errors.New("empty")
	}
	return strings.ToUpper(s), nil
}

func unitNamed(n int) (total int, err error) {
	for i := 0; i < n; i++ {
		total += i
	}
	if total > threshold {
		err = fmt.Errorf("over %d", threshold)
	}
	return
}

func unitClosure(n int) int {
	double := func(x int) int {
		return x * 2
	}
	return double(n)
}

func unitNested(n int) int {
	switch {
	case n < 0:
		return -1
	default:
		for i := 0; ; i++ {
			if i == n {
				return i
			}
		}
	}
}

func unitPoint(p point) int {
	return p.sum() + origin.sum()
}

func unitLevel() level {
	return levelHigh
}

func unitTimeout() time.Duration {
	return timeout
}

func unitGreeting() string {
	return greeting
}

func unitFactorial(n int) int {
	if n <= 1 {
		return 1
	}
	return n * unitFactorial(n-1)
}

func unitSum(nums ...int) int {
	total := 0
	for _, n := range nums {
		total += n
	}
	return total
}

func unitShout(s string) string {
	return shout(s)
}

func shout(s string) string {
	return strings.ToUpper(s) + "!"
}

func unitDescribe(v any) string {
	return fmt.Sprint(v)
}

func unitGeneric[T any](v T) T {
	return v
}

func unitDeferred(n int) (out int) {
	defer func() { out *= 2 }()
	return n
}

func unitRecover(a, b int) (q int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered: %v", r)
		}
	}()
	return a / b, nil
}

var endpoint = newEndpoint()

func newEndpoint() string {
	return "remote"
}

func unitShadow() string {
	endpoint := "local"
	return endpoint
}

func unitShadowParam(threshold int) int {
	return threshold * 2
}

func unitShadowLater() int {
	limit := threshold
	{
		threshold := 1
		limit += threshold
	}
	return limit
}
