package scheduler

import (
	"math/rand/v2"
	"testing"
	"time"

	"autoposter/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestPlanOrderAndSpacing(t *testing.T) {
	accounts := []*models.Account{{ID: "a"}, {ID: "b"}}
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	var slots []Slot
	for s := range Plan(start, 3, 5*time.Minute, accounts) {
		slots = append(slots, s)
	}

	assert.Len(t, slots, 6)
	wantAccounts := []string{"a", "b", "a", "b", "a", "b"}
	for k, s := range slots {
		assert.Equal(t, wantAccounts[k], s.Account.ID)
		assert.Equal(t, k/2, s.Run)
		assert.Equal(t, start.Add(time.Duration(k)*5*time.Minute), s.At)
	}
}

func TestPlanStopsEarly(t *testing.T) {
	accounts := []*models.Account{{ID: "a"}, {ID: "b"}}
	count := 0
	for range Plan(time.Now(), 10, time.Minute, accounts) {
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
}

func TestPlanNoAccounts(t *testing.T) {
	count := 0
	for range Plan(time.Now(), 10, time.Minute, nil) {
		count++
	}
	assert.Zero(t, count)
}

func TestPlannerRanges(t *testing.T) {
	p := NewPlanner(testConfig(), rand.New(rand.NewPCG(7, 11)))
	for i := 0; i < 200; i++ {
		runs := p.Runs()
		assert.GreaterOrEqual(t, runs, 10)
		assert.LessOrEqual(t, runs, 15)

		iv := p.Interval()
		assert.GreaterOrEqual(t, iv, 5*time.Minute)
		assert.LessOrEqual(t, iv, 6*time.Minute)
		assert.Zero(t, iv%time.Second)
	}
}
