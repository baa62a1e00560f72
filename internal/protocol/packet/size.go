package packet

import "fmt"

// FormatDataSize renders n bytes with IEC units, e.g. "512 B", "1.5 KiB".
func FormatDataSize(n int64) string {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	if abs < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	const units = "KMGTPE"
	div, exp := int64(1024), 0
	for v := abs / 1024; v >= 1024 && exp < len(units)-1; v /= 1024 {
		div *= 1024
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), units[exp])
}
