package gpumem

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/gpumem/mem"
)

var reportPrinter = message.NewPrinter(language.English)

// FormatInfo renders usage counters as a human-readable report with
// grouped digits, for CLI and diagnostic output.
func FormatInfo(info mem.Info) string {
	var b strings.Builder
	w := func(label string, v uint64, bytes bool) {
		if bytes {
			reportPrinter.Fprintf(&b, "%-22s %14d B\n", label, v)
			return
		}
		reportPrinter.Fprintf(&b, "%-22s %14d\n", label, v)
	}
	w("used memory", info.UsedMemoryUsage, true)
	w("used memory count", info.UsedMemoryCount, false)
	w("free (pooled) memory", info.FreeMemoryUsage, true)
	w("used blocks", info.UsedBlockUsage, true)
	w("used block count", info.UsedBlockCount, false)
	if info.UsedMemoryUsage > 0 {
		fmt.Fprintf(&b, "%-22s %14.1f %%\n", "unused",
			(1-float64(info.UsedBlockUsage)/float64(info.UsedMemoryUsage))*100)
	}
	return b.String()
}
