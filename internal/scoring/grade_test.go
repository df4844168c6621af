package scoring

import "testing"

func TestGrade(t *testing.T) {
	tests := []struct {
		percentage float64
		want       string
	}{
		{100, "A+"},
		{97, "A+"},
		{96.99, "A"},
		{93, "A"},
		{92.9, "B+"},
		{90, "B+"},
		{89.9, "B"},
		{87, "B"},
		{86.9, "C+"},
		{83, "C+"},
		// 80-82.99 grades below the 83 C+ band on purpose.
		{82.9, "C"},
		{80, "C"},
		{79.9, "D"},
		{70, "D"},
		{69.9, "F"},
		{0, "F"},
	}

	for _, tc := range tests {
		if got := Grade(tc.percentage); got != tc.want {
			t.Errorf("Grade(%v) = %q, want %q", tc.percentage, got, tc.want)
		}
	}
}
