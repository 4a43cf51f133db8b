package tables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectTablesGroupsAlignedRows(t *testing.T) {
	text := "Some introductory prose about the experiment.\n" +
		"Sample\tMass\tVolume\n" +
		"A\t1.2\t0.5\n" +
		"B\t2.4\t1.1\n" +
		"A closing paragraph without any alignment."

	blocks := detectTables(text)
	require.Len(t, blocks, 1)
	assert.Contains(t, blocks[0], "Sample\tMass\tVolume")
	assert.Contains(t, blocks[0], "B\t2.4\t1.1")
	assert.NotContains(t, blocks[0], "introductory prose")
}

func TestDetectTablesIgnoresSingleAlignedLine(t *testing.T) {
	text := "prose before\nName\tValue\tUnit\nprose after"

	assert.Empty(t, detectTables(text))
}

func TestDetectTablesSpaceSeparatedColumns(t *testing.T) {
	text := "Quarter   Revenue   Growth\n" +
		"Q1        10.5      2.1\n" +
		"Q2        11.2      6.7"

	blocks := detectTables(text)
	require.Len(t, blocks, 1)
	assert.Contains(t, blocks[0], "Q2")
}

func TestIsTableRowRequiresThreeCells(t *testing.T) {
	assert.True(t, isTableRow("a\tb\tc"))
	assert.False(t, isTableRow("a\tb"))
	assert.False(t, isTableRow("plain sentence with single spaces"))
	assert.False(t, isTableRow("   "))
}
