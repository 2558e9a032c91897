package mocks

import (
	"fmt"
	"sync"

	"github.com/mcoot/secretgame/internal/dependencies/random"
)

// MockRandom is a mock implementation of Random for testing.
// Queued values are returned in order; once a queue is exhausted Intn
// returns 0, String returns "" and UUID returns a sequential id.
type MockRandom struct {
	mu sync.Mutex

	IntnResults []int
	intnIndex   int

	StringResults []string
	stringIndex   int

	UUIDResults []string
	uuidIndex   int
	uuidCounter int
}

// Ensure MockRandom implements Random
var _ random.Random = (*MockRandom)(nil)

// NewMockRandom creates a new MockRandom
func NewMockRandom() *MockRandom {
	return &MockRandom{}
}

// Intn returns the next queued result, or 0 if none remaining
func (r *MockRandom) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.intnIndex >= len(r.IntnResults) {
		return 0
	}
	result := r.IntnResults[r.intnIndex]
	r.intnIndex++
	return result
}

// String returns the next queued result, or empty string if none remaining
func (r *MockRandom) String(length int, alphabet string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stringIndex >= len(r.StringResults) {
		return ""
	}
	result := r.StringResults[r.stringIndex]
	r.stringIndex++
	return result
}

// UUID returns the next queued id, or a unique sequential one
func (r *MockRandom) UUID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.uuidIndex < len(r.UUIDResults) {
		result := r.UUIDResults[r.uuidIndex]
		r.uuidIndex++
		return result
	}
	r.uuidCounter++
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", r.uuidCounter)
}

// QueueIntn adds values to the Intn result queue
func (r *MockRandom) QueueIntn(values ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.IntnResults = append(r.IntnResults, values...)
}

// QueueString adds values to the String result queue
func (r *MockRandom) QueueString(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StringResults = append(r.StringResults, values...)
}

// QueueUUID adds values to the UUID result queue
func (r *MockRandom) QueueUUID(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.UUIDResults = append(r.UUIDResults, values...)
}

// Reset clears all queued results
func (r *MockRandom) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.IntnResults = nil
	r.intnIndex = 0
	r.StringResults = nil
	r.stringIndex = 0
	r.UUIDResults = nil
	r.uuidIndex = 0
}
