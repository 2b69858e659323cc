// Package challenge defines the vocabulary shared by the resolution pipeline:
// snapshots of the on-screen challenge, their classification, solve tasks and
// solutions, and the narrow ports through which the pipeline observes and
// acts on the remote application.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultCellCount is the number of selectable grid cells in the observed layout.
const DefaultCellCount = 6

// Snapshot is one capture of the challenge region plus its extracted text.
// It is immutable once created and owned by the call that requested it.
type Snapshot struct {
	Image      []byte
	Text       string
	CapturedAt time.Time
}

// GridType selects how the solving service interprets the grid image.
type GridType int

const (
	// GridPickMatch is a "pick/select/match the image" grid.
	GridPickMatch GridType = iota
	// GridCompare is any other grid, solved as a comparison.
	GridCompare
)

// WireName returns the imgType value sent to the solving service.
func (g GridType) WireName() string {
	if g == GridPickMatch {
		return "funcaptcha"
	}
	return "funcaptcha_compare"
}

func (g GridType) String() string { return g.WireName() }

// SolveTask is constructed once per solving attempt and submitted at most once.
type SolveTask struct {
	ChallengeImage  []byte
	InstructionText string
	GridType        GridType
}

// NewSolveTask builds a task from a freshly observed snapshot.
func NewSolveTask(s Snapshot) SolveTask {
	return SolveTask{
		ChallengeImage:  s.Image,
		InstructionText: s.Text,
		GridType:        GridTypeFor(s.Text),
	}
}

// SolveHandle identifies a submitted task at the solving service.
type SolveHandle string

// Solution is the ordered list of 1-based cell indices to select.
type Solution struct {
	Cells []int
}

// InvalidIndices returns the entries of Cells outside [1, n].
func (s Solution) InvalidIndices(n int) []int {
	var bad []int
	for _, c := range s.Cells {
		if c < 1 || c > n {
			bad = append(bad, c)
		}
	}
	return bad
}

// PositionKind names a logical tap target.
type PositionKind int

const (
	PositionVerify PositionKind = iota
	PositionTryAgain
	PositionRefresh
	PositionCell
)

// Position is a logical tap target. Cell is 1-based and only meaningful for
// PositionCell.
type Position struct {
	Kind PositionKind
	Cell int
}

var (
	VerifyButton   = Position{Kind: PositionVerify}
	TryAgainButton = Position{Kind: PositionTryAgain}
	RefreshButton  = Position{Kind: PositionRefresh}
)

// Cell returns the position of grid cell i (1-based).
func Cell(i int) Position { return Position{Kind: PositionCell, Cell: i} }

func (p Position) String() string {
	switch p.Kind {
	case PositionVerify:
		return "verify-button"
	case PositionTryAgain:
		return "try-again-button"
	case PositionRefresh:
		return "refresh-button"
	case PositionCell:
		return fmt.Sprintf("cell-%d", p.Cell)
	}
	return "unknown"
}

// Observer captures the challenge region and returns it with its OCR text.
type Observer interface {
	Capture(ctx context.Context) (Snapshot, error)
}

// Actor performs UI actions against the remote application.
type Actor interface {
	Tap(ctx context.Context, pos Position) error
	ElementPresent(ctx context.Context, selector string) (bool, error)
}

// ErrObservation marks a snapshot that is unavailable or unusable.
var ErrObservation = errors.New("observation failed")
