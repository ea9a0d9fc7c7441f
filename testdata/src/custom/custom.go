package custom

var state int

// park is a yield point by the registry.
func park() {}

func Parked() int {
	state = 1
	park()
	return state // want `TL000: MustCheckLoad`
}

func Unparked() int {
	state = 1
	return state
}

var flag int

// settle is what the registry asserts at the start of Settled.
func settle() {
	flag = 1
}

// Settled reads what settle wrote.
func Settled() int {
	return flag
}

// Unsettled has nobody vouching for the flag.
func Unsettled() int {
	return flag // want `TL000: MustCheckLoad`
}
