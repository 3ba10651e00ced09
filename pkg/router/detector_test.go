package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegexSwitchDetector_Detect(t *testing.T) {
	owned := threeDatabases()
	d := NewRegexSwitchDetector()

	tests := []struct {
		name    string
		task    string
		want    string // expected database name, "" = no match
		matched bool
	}{
		{name: "switch to with database suffix", task: "switch to the InventoryDB database", want: "InventoryDB", matched: true},
		{name: "use at end of sentence", task: "use SalesDB", want: "SalesDB", matched: true},
		{name: "use with trailing period", task: "use SalesDB.", want: "SalesDB", matched: true},
		{name: "connect to engine type", task: "connect to the mysql database", want: "InventoryDB", matched: true},
		{name: "change to connection name", task: "change to warehouse", want: "Analytics", matched: true},
		{name: "case insensitive verb and name", task: "SWITCH TO salesdb", want: "SalesDB", matched: true},
		{name: "multi word reference", task: "go to the sales-prod database", want: "SalesDB", matched: true},
		{name: "plain question is not a switch", task: "how many orders shipped from the warehouse", matched: false},
		{name: "switch to unknown name", task: "switch to PayrollDB", matched: false},
		{name: "verb buried mid-sentence without suffix", task: "people use SalesDB for reporting daily", matched: false},
		{name: "empty task", task: "", matched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, matched := d.Detect(tt.task, owned)
			assert.Equal(t, tt.matched, matched)
			if tt.matched {
				require.NotNil(t, db)
				assert.Equal(t, tt.want, db.Name)
			} else {
				assert.Nil(t, db)
			}
		})
	}
}

func TestRegexSwitchDetector_NoOwnedDatabases(t *testing.T) {
	d := NewRegexSwitchDetector()
	db, matched := d.Detect("switch to the SalesDB database", nil)
	assert.False(t, matched)
	assert.Nil(t, db)
}
