package shapes

// Find leaves its loop through two exits and takes the index along.
func Find(xs []int, x int) int { // want `TL010: SkippedFunction: convert shapes.Find: .*loops cannot be normalized`
	for i := 0; i < len(xs); i++ {
		if xs[i] == x {
			return i
		}
	}
	return -1
}
