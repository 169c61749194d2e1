package testutil

import (
	"fmt"
	"strings"
)

// WineColumns are the feature columns produced by WineCSV.
var WineColumns = []string{"fixed acidity", "volatile acidity", "alcohol"}

// WineCSV builds a deterministic wine-quality dataset with a header row and a
// "quality" label column. With learnable set, each quality class (5, 6, 7)
// occupies its own well separated region of feature space. Otherwise labels
// are independent of the features.
func WineCSV(rows int, sep string, learnable bool) []byte {
	classes := []string{"5", "6", "7"}
	var b strings.Builder
	b.WriteString(`"fixed acidity"` + sep + `"volatile acidity"` + sep + `"alcohol"` + sep + `"quality"` + "\n")
	for i := range rows {
		cluster := i % 3
		label := classes[cluster]
		if !learnable {
			label = classes[(i/3)%3]
		}
		jitter := float64((i*37)%11-5) * 0.02
		fmt.Fprintf(&b, "%.3f%s%.3f%s%.3f%s%s\n",
			7.0+float64(cluster)*1.2+jitter, sep,
			0.7-float64(cluster)*0.2+jitter/4, sep,
			9.0+float64(cluster)*1.5-jitter, sep,
			label)
	}
	return []byte(b.String())
}
