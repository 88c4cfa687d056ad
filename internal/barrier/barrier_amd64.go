//go:build amd64

package barrier

// Speculation serializes the instruction stream so no later load issues
// speculatively past a preceding bounds check. LFENCE on amd64.
func Speculation()
