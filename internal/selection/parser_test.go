package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		utterance string
		want      Decision
	}{
		{"option 2", Decision{Kind: SelectOption, Option: 2}},
		{"Option TWO", Decision{Kind: SelectOption, Option: 2}},
		{"I'll pick number 3, please.", Decision{Kind: SelectOption, Option: 3}},
		{"select the 4th", Decision{Kind: SelectOption, Option: 4}},
		{"choice five", Decision{Kind: SelectOption, Option: 5}},
		{"the second one", Decision{Kind: SelectOption, Option: 2}},
		{"let's go with the first", Decision{Kind: SelectOption, Option: 1}},
		{"2", Decision{Kind: SelectOption, Option: 2}},
		{"three works", Decision{Kind: SelectOption, Option: 3}},
		{"option 7", Decision{Kind: Unrecognized}},
		{"option 0", Decision{Kind: Unrecognized}},
		{"9", Decision{Kind: Unrecognized}},
		{"cancel", Decision{Kind: Cancel}},
		{"Never mind.", Decision{Kind: Cancel}},
		{"nevermind", Decision{Kind: Cancel}},
		{"different times", Decision{Kind: RequestMore}},
		{"none of these", Decision{Kind: RequestMore}},
		{"do you have other options?", Decision{Kind: RequestMore}},
		{"something else", Decision{Kind: RequestMore}},
		{"maybe another time", Decision{Kind: RequestMore}},
		{"banana", Decision{Kind: Unrecognized}},
		{"", Decision{Kind: Unrecognized}},
		{"   ...  ", Decision{Kind: Unrecognized}},
		{"someone else", Decision{Kind: Unrecognized}},
	}
	for _, tc := range cases {
		t.Run(tc.utterance, func(t *testing.T) {
			assert.Equal(t, tc.want, Parse(tc.utterance))
		})
	}
}

func TestParse_ExplicitOptionBeatsCancel(t *testing.T) {
	assert.Equal(t, Decision{Kind: SelectOption, Option: 1}, Parse("cancel that, option 1"))
}

func TestParse_OrdinalBeatsCardinal(t *testing.T) {
	assert.Equal(t, Decision{Kind: SelectOption, Option: 3}, Parse("one sec, the third"))
}

func TestParse_OptionNumbersStayInRange(t *testing.T) {
	for _, s := range []string{"option 1", "option 5", "first", "fifth", "one", "5"} {
		d := Parse(s)
		assert.Equal(t, SelectOption, d.Kind, s)
		assert.GreaterOrEqual(t, d.Option, 1, s)
		assert.LessOrEqual(t, d.Option, MaxOption, s)
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "select_option", SelectOption.String())
	assert.Equal(t, "request_more", RequestMore.String())
	assert.Equal(t, "cancel", Cancel.String())
	assert.Equal(t, "unrecognized", Unrecognized.String())
}
