package cohort

import (
	"embed"
	"io/fs"
)

// Bundled cohorts are synthetic demo data shaped like the clinical datasets.
//
//go:embed data/*.csv
var bundled embed.FS

// NewBundledLoader returns a loader over the cohort files shipped with the binary.
func NewBundledLoader() *FSLoader {
	sub, err := fs.Sub(bundled, "data")
	if err != nil {
		panic(err)
	}
	return &FSLoader{FS: sub, Label: "bundled"}
}
