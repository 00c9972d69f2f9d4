// Target program for exercising memscan by hand: it keeps a few known
// values in writable memory and prints them so scans, refines, writes
// and freezes can be observed.
package main

import (
	"fmt"
	"os"
	"time"
)

func main() {
	fmt.Printf("Target program PID: %d\n", os.Getpid())

	score := uint32(1000)
	health := int32(-50)
	ratio := float64(3.5)

	fmt.Printf("score (u32) at %p\n", &score)
	fmt.Printf("health (i32) at %p\n", &health)
	fmt.Printf("ratio (f64) at %p\n", &ratio)

	for {
		fmt.Printf("score=%d health=%d ratio=%g\n", score, health, ratio)
		time.Sleep(2 * time.Second)
	}
}
