package basic

import "sync"

var (
	counter int
	mu      sync.Mutex
)

// Straight never yields, everything it reads stays its own.
func Straight(x *int) int {
	counter = 1
	*x = 2
	return counter + *x
}

func Wait(ch chan int) int {
	counter = 1
	<-ch
	return counter // want `TL000: MustCheckLoad: .* needs a runtime interference check`
}

func Locked() int {
	mu.Lock()
	v := counter // want `TL000: MustCheckLoad`
	mu.Unlock()
	return v
}

func Poll(ch chan int) int {
	s := 0
	for i := 0; i < 3; i++ {
		s += counter // want `TL000: MustCheckLoad`
		<-ch
	}
	return s
}

func store(v int) {
	counter = v
}

// Inlined rewrites the counter after the yield, the read sees its own write.
func Inlined(ch chan int) int {
	<-ch
	store(5)
	return counter
}

// Read runs after code it knows nothing of, anybody could have written the counter.
func Read() int {
	return counter // want `TL000: MustCheckLoad`
}
