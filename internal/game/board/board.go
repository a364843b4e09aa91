// Package board models one player's 10x10 battleship grid: ship placement
// and its validation against a fleet, guesses, sinking, and the shadow
// cells that a sunk ship makes provably empty.
package board

const cells = Size * Size

// Cell states reported in board snapshots.
const (
	CellNone        = "NONE"
	CellShip        = "SHIP"
	CellHit         = "HIT"
	CellMiss        = "MISS"
	CellInvalidated = "INVALIDATED"
)

// Board holds ship placement and the guesses made against it.
//
// Invariant: a cell is never both guessed and invalidated; guessing an
// invalidated cell is rejected by callers before Turn is invoked.
type Board struct {
	ships       [cells]bool
	guessed     [cells]bool
	invalidated [cells]bool
	latest      []Field
}

// New returns an empty board.
func New() *Board {
	return &Board{}
}

// SetShip marks f as a ship cell. Placement is validated later, as a whole,
// by IsValid.
//
// Precondition: f.InBounds().
func (b *Board) SetShip(f Field) {
	b.ships[f.index()] = true
}

// IsShip reports whether f holds a ship cell.
func (b *Board) IsShip(f Field) bool { return b.ships[f.index()] }

// IsGuessed reports whether f has been guessed.
func (b *Board) IsGuessed(f Field) bool { return b.guessed[f.index()] }

// IsInvalidated reports whether f was shadowed by a sunk neighbour.
func (b *Board) IsInvalidated(f Field) bool { return b.invalidated[f.index()] }

func (b *Board) ship(row, col int) bool {
	f := Field{Row: row, Col: col}
	return f.InBounds() && b.ships[f.index()]
}

// IsValid reports whether the placed ships form exactly the given fleet:
// every ship is a straight horizontal or vertical line, no two ships touch,
// not even diagonally, and the multiset of ship lengths equals fleet.
func (b *Board) IsValid(fleet Fleet) bool {
	remaining := fleet.clone()
	var visited [cells]bool

	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			start := Field{Row: row, Col: col}
			if !b.ships[start.index()] || visited[start.index()] {
				continue
			}

			hLen, vLen := 1, 1
			for b.ship(row, col+hLen) {
				hLen++
			}
			for b.ship(row+vLen, col) {
				vLen++
			}
			if hLen > 1 && vLen > 1 {
				return false
			}

			length, dRow, dCol := hLen, 0, 1
			if vLen > 1 {
				length, dRow, dCol = vLen, 1, 0
			}

			inShip := func(r, c int) bool {
				if dRow == 0 {
					return r == row && c >= col && c < col+length
				}
				return c == col && r >= row && r < row+length
			}
			for i := 0; i < length; i++ {
				r, c := row+i*dRow, col+i*dCol
				visited[Field{Row: r, Col: c}.index()] = true
				for nr := r - 1; nr <= r+1; nr++ {
					for nc := c - 1; nc <= c+1; nc++ {
						if b.ship(nr, nc) && !inShip(nr, nc) {
							return false
						}
					}
				}
			}

			if remaining[length] <= 0 {
				return false
			}
			remaining[length]--
		}
	}

	for _, count := range remaining {
		if count != 0 {
			return false
		}
	}
	return true
}

// extent returns every cell of the ship containing f.
//
// Precondition: b.IsShip(f).
func (b *Board) extent(f Field) []Field {
	fields := []Field{f}
	for _, d := range [4][2]int{{0, 1}, {0, -1}, {1, 0}, {-1, 0}} {
		for i := 1; b.ship(f.Row+i*d[0], f.Col+i*d[1]); i++ {
			fields = append(fields, Field{Row: f.Row + i*d[0], Col: f.Col + i*d[1]})
		}
	}
	return fields
}

// Turn records a guess at f and reports whether it hit a ship. The list
// returned by LatestInvalidated is reset on every call; when the guess sinks
// a ship, every unguessed, non-ship, not yet invalidated neighbour of the
// ship is invalidated and recorded there.
//
// Precondition: f.InBounds().
func (b *Board) Turn(f Field) bool {
	b.latest = b.latest[:0]
	b.guessed[f.index()] = true
	if !b.ships[f.index()] {
		return false
	}

	ship := b.extent(f)
	for _, s := range ship {
		if !b.guessed[s.index()] {
			return true
		}
	}

	for _, s := range ship {
		for r := s.Row - 1; r <= s.Row+1; r++ {
			for c := s.Col - 1; c <= s.Col+1; c++ {
				n := Field{Row: r, Col: c}
				if !n.InBounds() {
					continue
				}
				i := n.index()
				if b.ships[i] || b.guessed[i] || b.invalidated[i] {
					continue
				}
				b.invalidated[i] = true
				b.latest = append(b.latest, n)
			}
		}
	}
	return true
}

// LatestInvalidated returns the cells invalidated by the most recent Turn.
func (b *Board) LatestInvalidated() []Field {
	out := make([]Field, len(b.latest))
	copy(out, b.latest)
	return out
}

// AllShipsGuessed reports whether every ship cell has been guessed.
func (b *Board) AllShipsGuessed() bool {
	for i := 0; i < cells; i++ {
		if b.ships[i] && !b.guessed[i] {
			return false
		}
	}
	return true
}

// Snapshot returns the state of every cell in row-major order. With
// revealShips false, unguessed ship cells are reported as NONE so the
// snapshot can be shown to the opponent.
func (b *Board) Snapshot(revealShips bool) []string {
	out := make([]string, cells)
	for i := 0; i < cells; i++ {
		switch {
		case b.ships[i] && b.guessed[i]:
			out[i] = CellHit
		case b.guessed[i]:
			out[i] = CellMiss
		case b.invalidated[i]:
			out[i] = CellInvalidated
		case b.ships[i] && revealShips:
			out[i] = CellShip
		default:
			out[i] = CellNone
		}
	}
	return out
}
