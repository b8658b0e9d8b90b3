// Package ranges holds the range model, the status state machine and the
// contracts the scheduler needs from its collaborators.
// Implementations of the contracts live in the infrastructure layer.
package ranges

import (
	"fmt"
	"strings"
	"time"

	"rangescan/internal/core/id"
)

// MaxDigitWidth keeps 10^DigitWidth inside int64.
const MaxDigitWidth = 18

// MaxKeyLength bounds keys so they stay usable as sink destination names.
const MaxKeyLength = 100

// Range is one named unit of sequential allocation work.
type Range struct {
	Key           string `json:"key"`
	DigitWidth    int    `json:"digit_width"`
	LastAllocated int64  `json:"last_allocated"`
	HasSeparator  bool   `json:"has_separator"`
	Status        Status `json:"status"`
}

// NormalizeKey trims and upper-cases a range key.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// MaxValue is 10^DigitWidth, the number of suffixes the range holds.
func (r Range) MaxValue() int64 {
	return pow10(r.DigitWidth)
}

// Remaining returns how many allocations are left.
func (r Range) Remaining() int64 {
	left := r.MaxValue() - r.LastAllocated
	if left < 0 {
		return 0
	}
	return left
}

// Validate checks the stored configuration and the counter invariants.
func (r Range) Validate() error {
	if r.Key == "" {
		return fmt.Errorf("range key is empty")
	}
	if len(r.Key) > MaxKeyLength {
		return fmt.Errorf("range key longer than %d characters", MaxKeyLength)
	}
	if r.DigitWidth < 1 || r.DigitWidth > MaxDigitWidth {
		return fmt.Errorf("digit width %d outside 1..%d", r.DigitWidth, MaxDigitWidth)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("unrecognized status %q", r.Status)
	}
	if r.LastAllocated < 0 || r.LastAllocated > r.MaxValue() {
		return fmt.Errorf("last allocated %d outside 0..%d", r.LastAllocated, r.MaxValue())
	}
	if r.Status == StatusNotStarted && r.LastAllocated != 0 {
		return fmt.Errorf("not started range has last allocated %d", r.LastAllocated)
	}
	return nil
}

// Identifier formats the identifier for an allocated suffix number.
// The printed suffix wraps at MaxValue so allocation MaxValue prints all zeros
// and every DigitWidth-digit suffix is printed exactly once per range.
func (r Range) Identifier(suffix int64) string {
	printed := suffix % r.MaxValue()
	sep := ""
	if r.HasSeparator {
		sep = " "
	}
	return fmt.Sprintf("%s%s%0*d", r.Key, sep, r.DigitWidth, printed)
}

// Allocation is the ephemeral result of one atomic increment.
type Allocation struct {
	Identifier string
	Suffix     int64
	Range      Range
}

// NewAllocation builds the allocation for a range returned by the store's increment.
func NewAllocation(r Range) Allocation {
	return Allocation{
		Identifier: r.Identifier(r.LastAllocated),
		Suffix:     r.LastAllocated,
		Range:      r,
	}
}

// Outcome is the ephemeral result of one lookup.
type Outcome struct {
	Identifier string
	Found      bool
	Payload    string
	Attempts   int
}

// Record is one row appended to a result sink.
type Record struct {
	Serial     int64
	Identifier string
	Payload    string
	RecordedAt time.Time
}

// RecordHeader is the header row every sink destination starts with.
var RecordHeader = []string{"Serial", "Generated ID", "Timestamp", "Payload"}

// Fields renders the record in header order.
func (r Record) Fields() []string {
	return []string{
		fmt.Sprintf("%d", r.Serial),
		r.Identifier,
		r.RecordedAt.UTC().Format(time.RFC3339),
		r.Payload,
	}
}

// AttemptResult classifies a journaled allocation attempt.
type AttemptResult string

const (
	AttemptFound      AttemptResult = "found"
	AttemptNotFound   AttemptResult = "not_found"
	AttemptFailed     AttemptResult = "failed"
	AttemptSinkFailed AttemptResult = "sink_failed"
)

// Attempt is the journal entry for one allocated identifier.
type Attempt struct {
	ID         id.ID
	RangeKey   string
	Identifier string
	Suffix     int64
	Result     AttemptResult
	Payload    string
	Error      string
	CreatedAt  time.Time
}

// NewRange is the input for creating a range outside the scheduler.
type NewRange struct {
	Key            string
	DigitWidth     int
	HasSeparator   bool
	StartingNumber int64
}

// Build validates the input and returns the range to persist.
// A non-zero starting number creates the range PENDING so that
// NOT_STARTED always means nothing was allocated.
func (n NewRange) Build() (Range, error) {
	r := Range{
		Key:           NormalizeKey(n.Key),
		DigitWidth:    n.DigitWidth,
		LastAllocated: n.StartingNumber,
		HasSeparator:  n.HasSeparator,
		Status:        StatusNotStarted,
	}
	if n.StartingNumber > 0 {
		r.Status = StatusPending
	}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	if r.LastAllocated >= r.MaxValue() {
		return Range{}, fmt.Errorf("starting number %d leaves nothing to allocate", n.StartingNumber)
	}
	return r, nil
}

func pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
