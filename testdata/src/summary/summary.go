package summary

var ready int

func Poll(ch chan int) int { // want `TL040: CheckSummary: runtime checks in summary.Poll: 1, .*loops widened: 1`
	s := 0
	for i := 0; i < 3; i++ { // want `TL041: PeelBenefit: peeling the first iteration`
		s += ready // want `TL000: MustCheckLoad`
		<-ch
	}
	return s
}
