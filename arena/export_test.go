package arena

// SetFatalTrapForTesting swaps out the process-terminating trap so tests
// can observe a double release without dying. It returns a restore
// function.
func SetFatalTrapForTesting(trap func(format string, args ...any)) func() {
	previous := fatalTrap
	fatalTrap = trap
	return func() {
		fatalTrap = previous
	}
}
