// Small helpers for formatting numeric values in headers/logs consistently,
// without pulling in fmt for something this simple.

package ratelimit

import "strconv"

func formatInt(v int) string { return strconv.Itoa(v) }
