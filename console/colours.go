package console

const (
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
	Gray   = "\033[90m" // Bright black, often appears as gray

	GreenInverse = "\033[7;32m"

	ResetColor = "\033[0m" // Reset to default color
)

type palette struct {
	enabled bool
}

func (p palette) paint(colour, s string) string {
	if !p.enabled {
		return s
	}
	return colour + s + ResetColor
}
