package scheduler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"invoice-harvester-go/internal/models"
)

func monthMessages(year int, month time.Month, n int) []models.CandidateMessage {
	out := make([]models.CandidateMessage, n)
	for i := range out {
		out[i] = models.CandidateMessage{
			ID:   fmt.Sprintf("%d-%02d-%d", year, month, i),
			Date: time.Date(year, month, 1+i, 12, 0, 0, 0, time.UTC),
		}
	}
	return out
}

func countByMonth(msgs []models.CandidateMessage) map[string]int {
	out := map[string]int{}
	for _, m := range msgs {
		out[m.Date.Format("2006-01")]++
	}
	return out
}

func TestBalanceUnderLimitKeepsEverything(t *testing.T) {
	msgs := append(monthMessages(2025, 3, 2), monthMessages(2025, 1, 2)...)
	selected, rest := Balance(msgs, 10)
	assert.Len(t, selected, 4)
	assert.Empty(t, rest)
	assert.Equal(t, "2025-01-0", selected[0].ID, "oldest first")
}

func TestBalanceSpreadsQuotaAcrossMonths(t *testing.T) {
	var msgs []models.CandidateMessage
	msgs = append(msgs, monthMessages(2025, 1, 20)...)
	msgs = append(msgs, monthMessages(2025, 2, 20)...)
	msgs = append(msgs, monthMessages(2025, 3, 20)...)

	selected, rest := Balance(msgs, 10)
	assert.Len(t, selected, 10)
	assert.Len(t, rest, 50)
	counts := countByMonth(selected)
	assert.Equal(t, 4, counts["2025-01"])
	assert.Equal(t, 4, counts["2025-02"])
	assert.Equal(t, 2, counts["2025-03"])
}

func TestBalanceFillsShortfallRoundRobin(t *testing.T) {
	var msgs []models.CandidateMessage
	msgs = append(msgs, monthMessages(2025, 1, 30)...)
	msgs = append(msgs, monthMessages(2025, 2, 1)...)
	msgs = append(msgs, monthMessages(2025, 3, 30)...)

	selected, rest := Balance(msgs, 12)
	assert.Len(t, selected, 12)
	assert.Len(t, rest, 49)
	counts := countByMonth(selected)
	assert.Equal(t, 1, counts["2025-02"])
	assert.Equal(t, 6, counts["2025-01"])
	assert.Equal(t, 5, counts["2025-03"])
}

func TestBalanceDenseMonthDoesNotStarveOthers(t *testing.T) {
	var msgs []models.CandidateMessage
	msgs = append(msgs, monthMessages(2025, 1, 28)...)
	msgs = append(msgs, monthMessages(2025, 2, 3)...)

	selected, _ := Balance(msgs, 6)
	counts := countByMonth(selected)
	assert.Equal(t, 3, counts["2025-01"])
	assert.Equal(t, 3, counts["2025-02"])
}
