package scoring

// gradeScale maps inclusive lower percentage bounds to letter grades, checked
// top-down. The 80–82 band deliberately grades "C" below the 83 "C+" bound;
// the thresholds are kept exactly as the product defines them.
var gradeScale = []struct {
	min   float64
	grade string
}{
	{97, "A+"},
	{93, "A"},
	{90, "B+"},
	{87, "B"},
	{83, "C+"},
	{80, "C"},
	{70, "D"},
}

// Grade returns the letter grade for a percentage.
func Grade(percentage float64) string {
	for _, band := range gradeScale {
		if percentage >= band.min {
			return band.grade
		}
	}
	return "F"
}
