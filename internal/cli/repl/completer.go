package repl

import "strings"

// Complete returns the candidates starting with prefix, in input order.
func Complete(candidates []string, prefix string) []string {
	var out []string
	for _, c := range candidates {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}
