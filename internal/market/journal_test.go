package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJournal_RevertRestoresMapsAndFields(t *testing.T) {
	var j journal
	m := map[string]int{"kept": 1, "changed": 2, "removed": 3}
	counter := 7

	setEntry(&j, m, "changed", 20)
	setEntry(&j, m, "added", 4)
	deleteEntry(&j, m, "removed")
	deleteEntry(&j, m, "missing")
	setField(&j, &counter, 8)
	setField(&j, &counter, 9)

	assert.Equal(t, map[string]int{"kept": 1, "changed": 20, "added": 4}, m)
	assert.Equal(t, 9, counter)
	assert.Equal(t, 5, j.length())

	j.revert(0)
	assert.Equal(t, map[string]int{"kept": 1, "changed": 2, "removed": 3}, m)
	assert.Equal(t, 7, counter)
	assert.Zero(t, j.length())
}
