package util

import (
	"fmt"
)

func ExampleClamp() {
	fmt.Println(Clamp(55, 0, 48))
	// Output: 48
}

func ExampleSecsToDuration() {
	fmt.Println(SecsToDuration(1.5))
	// Output: 1.5s
}
