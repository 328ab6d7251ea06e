package model

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

var fallbackMaterial = MaterialDef{Kd: [3]float64{0.8, 0.8, 0.8}}

// WriteMTL writes a material library with one entry per name, in the given
// order. Names missing from the catalog get a neutral grey.
func (c *Catalog) WriteMTL(w io.Writer, names []string) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# %d materials\n", len(names))
	for _, name := range names {
		m, ok := c.Materials[name]
		if !ok {
			m = fallbackMaterial
		}
		alpha := m.Alpha
		if alpha <= 0 || alpha > 1 {
			alpha = 1
		}
		fmt.Fprintf(bw, "\nnewmtl %s\n", name)
		fmt.Fprintf(bw, "Kd %s %s %s\n", ftoa(m.Kd[0]), ftoa(m.Kd[1]), ftoa(m.Kd[2]))
		fmt.Fprintf(bw, "Ks 0 0 0\n")
		fmt.Fprintf(bw, "d %s\n", ftoa(alpha))
		if alpha < 1 {
			fmt.Fprintf(bw, "illum 4\n")
		} else {
			fmt.Fprintf(bw, "illum 1\n")
		}
	}
	return bw.Flush()
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
