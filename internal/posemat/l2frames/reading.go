package l2frames

// Mat geometry.
const (
	Rows = 8
	Cols = 6
	Size = Rows * Cols
)

// MaxValue is the largest value a 12-bit ADC cell reports. It is a display
// bound only; decode does not enforce it.
const MaxValue = 4095

// Reading is one decoded mat scan in acquisition order.
type Reading [Size]int

// At returns the value at row r, column c.
func (r *Reading) At(row, col int) int {
	return r[row*Cols+col]
}

// Grid reshapes the reading into rows of columns, row 0 first.
func (r *Reading) Grid() [Rows][Cols]int {
	var g [Rows][Cols]int
	for i, v := range r {
		g[i/Cols][i%Cols] = v
	}
	return g
}

// Float32 returns the values as float32 in acquisition order.
func (r *Reading) Float32() []float32 {
	out := make([]float32, Size)
	for i, v := range r {
		out[i] = float32(v)
	}
	return out
}

// Float64 returns the values as float64 in acquisition order.
func (r *Reading) Float64() []float64 {
	out := make([]float64, Size)
	for i, v := range r {
		out[i] = float64(v)
	}
	return out
}

// Sum returns the total pressure across all cells.
func (r *Reading) Sum() int {
	total := 0
	for _, v := range r {
		total += v
	}
	return total
}
